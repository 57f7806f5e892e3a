package indexerdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	mghelper "github.com/bridgeworks/evm-bridge/pkg/pgutil/migrations"
	"github.com/bridgeworks/evm-bridge/pkg/store/dao"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating chain_cursors table...")
		return mghelper.CreateSchema(ctx, db, &dao.ChainCursor{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping chain_cursors table...")
		return mghelper.DropTables(ctx, db, &dao.ChainCursor{})
	})
}
