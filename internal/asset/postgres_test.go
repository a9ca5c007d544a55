package asset

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/mediasearch/internal/database/dbtest"
)

func TestPostgresStore(t *testing.T) {
	pool := dbtest.Pool(t)
	runStoreSuite(t, func(t *testing.T) Store {
		_, err := pool.Exec(context.Background(), `TRUNCATE media_asset CASCADE`)
		if err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return NewPostgresStore(pool)
	})
}
