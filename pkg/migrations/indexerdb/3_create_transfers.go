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
		log.Println("creating transfers table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.Transfer{}); err != nil {
			return err
		}
		if _, err := db.NewCreateIndex().
			Model((*dao.Transfer)(nil)).
			Index("idx_transfers_nonce_chains").
			Column("nonce", "source_chain_id", "target_chain_id").
			Unique().
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &dao.Transfer{}, "status", "sender", "recipient")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping transfers table...")
		return mghelper.DropTables(ctx, db, &dao.Transfer{})
	})
}
