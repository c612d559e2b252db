package session_test

import (
	"context"
	"fmt"
	"time"

	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/backend/local"
	"github.com/goliatone/go-auth-session/guard"
)

func ExampleManager() {
	ctx := context.Background()

	db, err := local.OpenSQLite(":memory:")
	if err != nil {
		panic(err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	backend, err := local.New(db, []byte("example-signing-key-0123456789"))
	if err != nil {
		panic(err)
	}
	if err := backend.Migrate(ctx); err != nil {
		panic(err)
	}

	cfg := session.DefaultConfig()
	cfg.WarningThreshold = 2 * time.Minute

	manager, err := session.NewManager(backend, session.WithConfig(cfg))
	if err != nil {
		panic(err)
	}
	defer manager.Stop()

	manager.Subscribe(func(e session.Event) {
		fmt.Println("event:", e.Type)
	})

	if err := manager.Start(ctx); err != nil {
		panic(err)
	}

	res := manager.SignUp(ctx, session.SignUpData{
		Email:    "ada@example.com",
		Password: "secret-pass",
	})
	fmt.Println(res.Message)

	decision := manager.EvaluatePath(ctx, "/signin?redirect=/settings")
	fmt.Println(decision.Allow, decision.Location(), decision.Reason == guard.ReasonAlreadyAuthenticated)

	manager.SignOut(ctx)
}
