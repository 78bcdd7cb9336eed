package memory

import (
	"testing"

	"github.com/mcoot/islandgame/internal/storage"
	"github.com/mcoot/islandgame/internal/storage/storagetest"
	"github.com/stretchr/testify/suite"
)

type StorageSuite struct {
	storagetest.Suite
}

func TestStorageSuite(t *testing.T) {
	s := new(StorageSuite)
	s.NewStorage = func() storage.Storage { return New() }
	suite.Run(t, s)
}
