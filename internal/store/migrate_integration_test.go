// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

//go:build integration

package store_test

import (
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/threadline/threadline/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var migrator *store.Migrator

	BeforeAll(func() {
		var err error
		migrator, err = store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Down()).To(Succeed())
		DeferCleanup(func() {
			Expect(migrator.Up()).To(Succeed())
			Expect(migrator.Close()).To(Succeed())
		})
	})

	It("starts at version zero", func() {
		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Version).To(BeZero())
		Expect(st.Dirty).To(BeFalse())
		Expect(st.Pending).NotTo(BeEmpty())
	})

	It("applies and rolls back one step at a time", func() {
		Expect(migrator.Up()).To(Succeed())
		latest, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(dirty).To(BeFalse())
		Expect(latest).To(BeNumerically(">=", 3))

		Expect(migrator.Steps(-1)).To(Succeed())
		v, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(latest - 1))

		Expect(migrator.Steps(1)).To(Succeed())
		v, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(latest))
	})

	It("rolls everything back", func() {
		Expect(migrator.Down()).To(Succeed())
		v, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeZero())
	})

	It("forces a version without running migrations", func() {
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Force(2)).To(Succeed())
		v, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint(2)))
		Expect(dirty).To(BeFalse())
		Expect(migrator.Force(3)).To(Succeed())
	})
})
