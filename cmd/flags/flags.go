// SPDX-License-Identifier: Apache-2.0

// Package flags binds the CLI's connection and behavior flags to viper,
// so every one is also settable by environment variable (spec §6).
package flags

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ConnectionFlags registers --url and the discrete host/port/database/
// username/password flags on cmd, each bound to both the flag and a
// DB_-prefixed environment variable.
func ConnectionFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("url", "", "Postgres connection URL (overrides the discrete connection flags)")
	cmd.PersistentFlags().String("host", "localhost", "Postgres host")
	cmd.PersistentFlags().Int("port", 5432, "Postgres port")
	cmd.PersistentFlags().String("database", "postgres", "Postgres database name")
	cmd.PersistentFlags().String("username", "postgres", "Postgres user")
	cmd.PersistentFlags().String("password", "", "Postgres password")
	cmd.PersistentFlags().Bool("skip-validation", false, "Skip pre-flight SQL validation of migration files")

	viper.BindPFlag("DB_URL", cmd.PersistentFlags().Lookup("url"))
	viper.BindPFlag("DB_HOST", cmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("DB_PORT", cmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("DB_NAME", cmd.PersistentFlags().Lookup("database"))
	viper.BindPFlag("DB_USER", cmd.PersistentFlags().Lookup("username"))
	viper.BindPFlag("DB_PASSWORD", cmd.PersistentFlags().Lookup("password"))
	viper.BindPFlag("SKIP_VALIDATION", cmd.PersistentFlags().Lookup("skip-validation"))
}

// DSN returns the connection string to use: the explicit URL if one was
// given, otherwise one assembled from the discrete flags.
func DSN() string {
	if u := viper.GetString("DB_URL"); u != "" {
		return u
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", viper.GetString("DB_HOST"), viper.GetInt("DB_PORT")),
		Path:   "/" + viper.GetString("DB_NAME"),
	}
	if user := viper.GetString("DB_USER"); user != "" {
		if pw := viper.GetString("DB_PASSWORD"); pw != "" {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()

	return u.String()
}

// SkipValidation reports whether --skip-validation was set.
func SkipValidation() bool {
	return viper.GetBool("SKIP_VALIDATION")
}
