// Package graph implements Neo4j adapters for the application.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"insight_server/core/port/out"
)

// =============================================================================
// Neo4j Driver
// =============================================================================

// NewDriver creates a new Neo4j driver and verifies connectivity.
func NewDriver(url, username, password string) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if username != "" && password != "" {
		auth = neo4j.BasicAuth(username, password, "")
	}

	driver, err := neo4j.NewDriverWithContext(url, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}
	return driver, nil
}

// =============================================================================
// Sender Graph Adapter
// =============================================================================

// SenderGraphAdapter implements out.SenderGraph using Neo4j. Each analyzed
// sender becomes a (:Sender) node linked to the (:User) with a RECEIVED_FROM
// relationship carrying a running interaction count; the top correspondents
// are treated as implicit VIPs by the scorer.
type SenderGraphAdapter struct {
	driver neo4j.DriverWithContext
	dbName string
}

var _ out.SenderGraph = (*SenderGraphAdapter)(nil)

func NewSenderGraphAdapter(driver neo4j.DriverWithContext, dbName string) *SenderGraphAdapter {
	return &SenderGraphAdapter{
		driver: driver,
		dbName: dbName,
	}
}

// EnsureIndexes creates necessary indexes and constraints.
func (a *SenderGraphAdapter) EnsureIndexes(ctx context.Context) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.user_id IS UNIQUE`,
		`CREATE CONSTRAINT sender_address_unique IF NOT EXISTS FOR (s:Sender) REQUIRE s.address IS UNIQUE`,
	}
	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			// Ignore if already exists
			continue
		}
	}
	return nil
}

// VIPSenders returns the user's top correspondents by interaction count.
func (a *SenderGraphAdapter) VIPSenders(ctx context.Context, userID string, limit int) ([]string, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	query := `
		MATCH (u:User {user_id: $userID})-[r:RECEIVED_FROM]->(s:Sender)
		RETURN s.address AS address
		ORDER BY r.count DESC
		LIMIT $limit
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userID": userID,
		"limit":  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query vip senders: %w", err)
	}

	var senders []string
	for result.Next(ctx) {
		if address, ok := result.Record().Get("address"); ok {
			if s, ok := address.(string); ok && s != "" {
				senders = append(senders, s)
			}
		}
	}
	return senders, result.Err()
}

// RecordSenders upserts interaction counts for the run's senders.
func (a *SenderGraphAdapter) RecordSenders(ctx context.Context, userID string, stats []out.SenderStat) error {
	if len(stats) == 0 {
		return nil
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	rows := make([]map[string]interface{}, 0, len(stats))
	for _, stat := range stats {
		rows = append(rows, map[string]interface{}{
			"address": stat.Address,
			"count":   stat.Count,
		})
	}

	query := `
		MERGE (u:User {user_id: $userID})
		WITH u
		UNWIND $senders AS sender
		MERGE (s:Sender {address: sender.address})
		MERGE (u)-[r:RECEIVED_FROM]->(s)
		ON CREATE SET r.count = sender.count
		ON MATCH SET r.count = r.count + sender.count
		SET r.updated_at = timestamp()
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"userID":  userID,
		"senders": rows,
	})
	if err != nil {
		return fmt.Errorf("failed to record senders: %w", err)
	}
	return nil
}
