// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/credpolicy/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		migrator  *store.Migrator
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("credpolicy_test"),
			postgres.WithUsername("credpolicy"),
			postgres.WithPassword("credpolicy"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if migrator != nil {
			Expect(migrator.Close()).To(Succeed())
		}
		if container != nil {
			Expect(container.Terminate(ctx)).To(Succeed())
		}
	})

	It("starts at version zero with everything pending", func() {
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Version).To(BeZero())
		Expect(status.Dirty).To(BeFalse())
		Expect(status.Pending).To(ContainElement(uint(1)))
	})

	It("applies the schema", func() {
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Up()).To(Succeed(), "second Up is a no-op")

		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Pending).To(BeEmpty())

		pool, err := store.Open(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		var exists bool
		Expect(pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'credential_accounts')`,
		).Scan(&exists)).To(Succeed())
		Expect(exists).To(BeTrue())

		_, err = pool.Exec(ctx,
			`INSERT INTO credential_accounts (id, username, password_digest, failed_attempts) VALUES ('x', 'neg', 'd', -1)`)
		Expect(err).To(HaveOccurred(), "failed_attempts must not be negative")
	})

	It("rolls the schema back", func() {
		Expect(migrator.Down()).To(Succeed())

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())
	})
})
