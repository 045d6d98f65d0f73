package surrealdb_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/cardvault/dualrepo/contrib/testenv"
	"github.com/cardvault/dualrepo/pkg/secondary"
	"github.com/cardvault/dualrepo/pkg/secondary/secondarytest"
	"github.com/cardvault/dualrepo/pkg/secondary/surrealdb"
)

func TestDriverConformance(t *testing.T) {
	const table = "conformance"
	testenv.SurrealDB(t, "dualrepo", "secondary")

	suite.Run(t, &secondarytest.DriverSuite{
		Collection: table,
		NewDriver: func() secondary.Driver {
			return surrealdb.New(testenv.SurrealDB(t, "dualrepo", "secondary", table, table+"_empty"))
		},
	})
}
