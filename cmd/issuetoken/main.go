package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"strings"

	_ "github.com/lib/pq"

	"github.com/jnwheeler44/tentd/internal/config"
	"github.com/jnwheeler44/tentd/internal/core/access"
	"github.com/jnwheeler44/tentd/internal/db/migrations"
	postgresRepo "github.com/jnwheeler44/tentd/internal/db/postgres"
)

// issuetoken creates or revokes bearer tokens in the Postgres token store
//
// Usage:
//
//	go run ./cmd/issuetoken -kind app -id 1 -scopes read_posts,write_posts
//	go run ./cmd/issuetoken -kind follower -id 7 -entity https://bob.example.com -groups friends
//	go run ./cmd/issuetoken -revoke <token>
//
// The token is printed once; only its digest is stored.
func main() {
	kindName := flag.String("kind", "app", "credential kind: follower, following or app")
	id := flag.Int64("id", 0, "follower, following or app id")
	entity := flag.String("entity", "", "entity URI of the follower or following")
	groups := flag.String("groups", "", "comma-separated group ids")
	scopes := flag.String("scopes", "", "comma-separated app scopes")
	postTypes := flag.String("post-types", "", "comma-separated post type bases the app may read")
	revoke := flag.String("revoke", "", "revoke this token instead of issuing one")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Up(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	store := postgresRepo.NewTokenRepository(db)
	ctx := context.Background()

	if *revoke != "" {
		if err := store.Revoke(ctx, *revoke); err != nil {
			log.Fatalf("Failed to revoke token: %v", err)
		}
		fmt.Println("Token revoked")
		return
	}

	kind, err := access.ParseKind(*kindName)
	if err != nil {
		log.Fatalf("Invalid -kind: %v", err)
	}
	if kind == access.KindAnonymous || *id <= 0 {
		log.Fatal("-kind must not be anonymous and -id must be positive")
	}
	if kind == access.KindFollower && *entity == "" {
		log.Fatal("-entity is required for follower tokens")
	}

	token, err := newToken()
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}

	cred := access.New(kind, *id, splitList(*groups), splitList(*scopes), splitList(*postTypes)).WithEntity(*entity)
	if err := store.Issue(ctx, token, cred); err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Printf("Issued %s token:\n\n%s\n\n", cred, token)
	fmt.Println("Send it as: Authorization: Bearer <token>")
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
