// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/holomush/credpolicy/internal/auth"
)

func newHashCmd(_ *app) *cobra.Command {
	var scheme string

	cmd := &cobra.Command{
		Use:   "hash <password>",
		Short: "Print the digest of a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hasher, err := auth.NewHasher(scheme)
			if err != nil {
				return err
			}
			digest, err := hasher.Hash(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), digest)
			return err
		},
	}

	cmd.Flags().StringVar(&scheme, "scheme", auth.SchemeArgon2id, "hash scheme (argon2id or bcrypt)")

	return cmd
}
