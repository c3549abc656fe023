package migrate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawfinds/pawfinds-backend/pkg/config"
	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
	"github.com/pawfinds/pawfinds-backend/pkg/db/sqlitetest"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, Validate())
}

func TestValidateRejectsBadFiles(t *testing.T) {
	badName := fstest.MapFS{"m/001_init.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")}}
	assert.ErrorContains(t, validateFS(badName, "m"), "invalid migration filename")

	missingDown := fstest.MapFS{"m/20250101000000_init.sql": {Data: []byte("-- +goose Up\n")}}
	assert.ErrorContains(t, validateFS(missingDown, "m"), "-- +goose Down")

	dup := fstest.MapFS{
		"m/20250101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"m/20250101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
	}
	assert.ErrorContains(t, validateFS(dup, "m"), "duplicate migration version")
}

func TestListingsMigrationMatchesQueries(t *testing.T) {
	data, err := embedded.ReadFile("migrations/20250301090100_create_listings.sql")
	require.NoError(t, err)
	content := string(data)

	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS listings",
		"status listing_status NOT NULL DEFAULT 'Pending'",
		"ON listings (status, updated_at DESC, id DESC)",
		"DROP TABLE IF EXISTS listings",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestChainMigrationsCarryIdempotencyIndexes(t *testing.T) {
	records, err := embedded.ReadFile("migrations/20250301090200_create_chain_records.sql")
	require.NoError(t, err)
	assert.Contains(t, string(records), "ux_chain_records_outbox_event ON chain_records (outbox_event_id)")

	events, err := embedded.ReadFile("migrations/20250301090300_create_chain_events.sql")
	require.NoError(t, err)
	assert.Contains(t, string(events), "ux_chain_events_tx_log ON chain_events (tx_hash, log_index)")
}

func TestCreateWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)

	path, err := Create(dir, "Add Listing Tags!", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20250402080000_add_listing_tags.sql"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "-- +goose Up"))

	_, err = Create(dir, "Add Listing Tags!", now)
	assert.ErrorContains(t, err, "already exists")

	_, err = Create(dir, "!!!", now)
	assert.Error(t, err)
}

func TestMaybeRunDevAutoMigratesSQLite(t *testing.T) {
	client := sqlitetest.Open(t)
	require.NoError(t, client.DB().Migrator().DropTable(&models.Listing{}))

	cfg := &config.Config{App: config.AppConfig{Env: config.AppEnvProd}}
	require.NoError(t, MaybeRunDev(context.Background(), cfg, logger.Nop(), client))
	assert.True(t, client.DB().Migrator().HasTable(&models.Listing{}))
}
