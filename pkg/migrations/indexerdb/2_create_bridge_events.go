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
		log.Println("creating bridge_events table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.BridgeEvent{}); err != nil {
			return err
		}
		if _, err := db.NewCreateIndex().
			Model((*dao.BridgeEvent)(nil)).
			Index("idx_bridge_events_tx_hash_log_index").
			Column("tx_hash", "log_index").
			Unique().
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewCreateIndex().
			Model((*dao.BridgeEvent)(nil)).
			Index("idx_bridge_events_chain_block").
			Column("chain_id", "block_number").
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &dao.BridgeEvent{}, "sender", "recipient")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping bridge_events table...")
		return mghelper.DropTables(ctx, db, &dao.BridgeEvent{})
	})
}
