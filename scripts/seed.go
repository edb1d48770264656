//go:build ignore

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"commentflow/internal/config"
	"commentflow/internal/credentials"
	"commentflow/internal/logger"
	"commentflow/internal/models"
)

var log = logger.NewNop()

// seedNamespace derives stable ids so reruns hit ON CONFLICT instead of duplicating
var seedNamespace = uuid.MustParse("6f1c1f0e-6a43-4d1e-9a37-2b9e0c3d5a10")

// Command-line flags
var (
	userID    = flag.String("user", "demo-user", "User ID added as owner of every seeded workspace")
	mediaID   = flag.String("media", "17900000000000001", "Media ID the seeded campaigns listen on")
	token     = flag.String("token", "", "Access token stored in Vault for the seeded connections (requires vault.enabled)")
	clearData = flag.Bool("clear", false, "Clear existing seed data before inserting")
	showHelp  = flag.Bool("help", false, "Show usage information")
)

func seedID(name string) uuid.UUID {
	return uuid.NewSHA1(seedNamespace, []byte(name))
}

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err = logger.New(cfg.Log.Dir, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := sqlx.Connect("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	if *clearData {
		if err := clearSeedData(db); err != nil {
			log.Fatalw("failed to clear seed data", "error", err)
		}
	}

	connections, err := seedWorkspaces(db, *userID)
	if err != nil {
		log.Fatalw("failed to seed workspaces", "error", err)
	}

	campaignsCreated, err := seedCampaigns(db, connections, *mediaID)
	if err != nil {
		log.Fatalw("failed to seed campaigns", "error", err)
	}

	if err := seedSpamFilters(db, connections); err != nil {
		log.Fatalw("failed to seed spam filters", "error", err)
	}

	if *token != "" {
		if err := storeTokens(cfg, connections, *token); err != nil {
			log.Fatalw("failed to store tokens", "error", err)
		}
	}

	log.Infow("seeding complete", "workspaces", len(connections), "campaigns_created", campaignsCreated)
}

// clearSeedData removes rows created by this seeder; dependent rows cascade
func clearSeedData(db *sqlx.DB) error {
	ids := make([]string, 0, 3)
	for _, plan := range []models.Plan{models.PlanStarter, models.PlanPro, models.PlanEnterprise} {
		ids = append(ids, seedID("workspace:"+string(plan)).String())
	}

	if _, err := db.Exec("DELETE FROM workspaces WHERE id = ANY($1::uuid[])", pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to delete workspaces: %w", err)
	}

	log.Infow("seed data cleared", "workspaces", len(ids))
	return nil
}

// seedWorkspaces creates one workspace per plan, each with a member and an active connection
func seedWorkspaces(db *sqlx.DB, userID string) ([]*models.AccountConnection, error) {
	var connections []*models.AccountConnection
	for i, plan := range []models.Plan{models.PlanStarter, models.PlanPro, models.PlanEnterprise} {
		workspaceID := seedID("workspace:" + string(plan))

		tx, err := db.Beginx()
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}

		_, err = tx.Exec(`
			INSERT INTO workspaces (id, name, plan)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING
		`, workspaceID, fmt.Sprintf("Demo %s workspace", plan), plan)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to insert workspace %s: %w", plan, err)
		}

		_, err = tx.Exec(`
			INSERT INTO workspace_memberships (workspace_id, user_id, role)
			VALUES ($1, $2, 'owner')
			ON CONFLICT (workspace_id, user_id) DO NOTHING
		`, workspaceID, userID)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to insert membership: %w", err)
		}

		conn := &models.AccountConnection{
			ID:                seedID("connection:" + string(plan)),
			WorkspaceID:       workspaceID,
			ExternalAccountID: fmt.Sprintf("1784140000000000%d", i+1),
			Username:          fmt.Sprintf("demo_%s_shop", plan),
			Status:            models.ConnectionStatusActive,
		}
		expires := time.Now().Add(60 * 24 * time.Hour)
		_, err = tx.Exec(`
			INSERT INTO ig_account_connections (id, workspace_id, external_account_id, username, status, token_expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, conn.ID, conn.WorkspaceID, conn.ExternalAccountID, conn.Username, conn.Status, expires)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to insert connection: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}

		connections = append(connections, conn)
	}

	log.Infow("workspaces seeded", "count", len(connections))
	return connections, nil
}

// seedCampaigns attaches one active campaign per connection to mediaID
func seedCampaigns(db *sqlx.DB, connections []*models.AccountConnection, mediaID string) (int, error) {
	templates := []string{
		"Thanks for your comment! Here is the link you asked for: https://example.com/offer",
		"Hi! We sent you the details in DM. Enjoy 10% off with code COMMENT10.",
		"Thank you for joining the giveaway! Winners are announced on Friday.",
	}

	created := 0
	for i, conn := range connections {
		result, err := db.Exec(`
			INSERT INTO auto_dm_campaigns (id, ig_connection_id, name, media_id, message_template, status, max_sends_per_hour)
			VALUES ($1, $2, $3, $4, $5, 'active', $6)
			ON CONFLICT (id) DO NOTHING
		`, seedID("campaign:"+conn.ID.String()), conn.ID, fmt.Sprintf("Auto reply for @%s", conn.Username),
			mediaID, templates[i%len(templates)], models.DefaultMaxSendsPerHour)
		if err != nil {
			return created, fmt.Errorf("failed to insert campaign for %s: %w", conn.Username, err)
		}

		rowsAffected, _ := result.RowsAffected()
		if rowsAffected > 0 {
			created++
		}
	}

	log.Infow("campaigns seeded", "created", created, "existing", len(connections)-created)
	return created, nil
}

// seedSpamFilters creates an active filter with the default keywords for every connection
func seedSpamFilters(db *sqlx.DB, connections []*models.AccountConnection) error {
	for _, conn := range connections {
		_, err := db.Exec(`
			INSERT INTO spam_filter_configs (id, ig_connection_id, status, spam_keywords, block_urls)
			VALUES ($1, $2, 'active', $3, TRUE)
			ON CONFLICT (ig_connection_id) DO NOTHING
		`, seedID("spam:"+conn.ID.String()), conn.ID, pq.StringArray(models.DefaultSpamKeywords))
		if err != nil {
			return fmt.Errorf("failed to insert spam filter for %s: %w", conn.Username, err)
		}
	}

	log.Infow("spam filters seeded", "count", len(connections))
	return nil
}

// storeTokens writes the same access token for every seeded connection to Vault
func storeTokens(cfg *config.Config, connections []*models.AccountConnection, token string) error {
	if !cfg.Vault.Enabled {
		log.Warnw("vault disabled, tokens not stored")
		return nil
	}

	store, err := credentials.NewVaultStore(cfg.Vault.Mount, cfg.Vault.PathPrefix, cfg.Vault.CacheTTL)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, conn := range connections {
		if err := conn.SetCredential(ctx, store, token); err != nil {
			return fmt.Errorf("failed to store token for %s: %w", conn.Username, err)
		}
	}

	log.Infow("access tokens stored", "connections", len(connections))
	return nil
}

func printUsage() {
	fmt.Println("usage: go run scripts/seed.go [flags]")
	fmt.Println("\nFlags:")
	flag.PrintDefaults()
	fmt.Println("\nExamples:")
	fmt.Println("  go run scripts/seed.go")
	fmt.Println("  go run scripts/seed.go -user=auth0|123 -media=17912345678901234")
	fmt.Println("  go run scripts/seed.go -clear -token=IGAA...")
	fmt.Println("\nNotes:")
	fmt.Println("  - One workspace per plan (starter, pro, enterprise), each with one active connection")
	fmt.Println("  - Ids are derived from fixed names, so reruns never create duplicates")
	fmt.Println("  - Use -clear to remove existing seed data before inserting new data")
}
