package postgres

import (
	"context"

	"github.com/alfredjeanlab/relay/internal/model"
)

const cartItemColumns = `id, owner_id, listing_id, quantity, note, added_at, updated_at`

func queryAddCartItem(ctx context.Context, db executor, c *model.CartItem) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO cart_items (`+cartItemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.OwnerID, c.ListingID, c.Quantity, c.Note, c.AddedAt, c.UpdatedAt,
	)
	return err
}

func queryGetCartItem(ctx context.Context, db executor, ownerID, itemID string) (*model.CartItem, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+cartItemColumns+` FROM cart_items WHERE owner_id = $1 AND id = $2`,
		ownerID, itemID,
	)
	c, err := scanCartItem(row)
	if err != nil {
		return nil, notFound(err, "cart item "+itemID)
	}
	return c, nil
}

func queryUpdateCartItem(ctx context.Context, db executor, c *model.CartItem) error {
	res, err := db.ExecContext(ctx, `
		UPDATE cart_items
		SET quantity = $3, note = $4, updated_at = $5
		WHERE owner_id = $1 AND id = $2`,
		c.OwnerID, c.ID, c.Quantity, c.Note, c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "cart item "+c.ID)
}

func queryRemoveCartItem(ctx context.Context, db executor, ownerID, itemID string) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE owner_id = $1 AND id = $2`,
		ownerID, itemID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "cart item "+itemID)
}

// queryClearCart deletes every item owned by ownerID and returns how many
// were removed. An already-empty cart is not an error.
func queryClearCart(ctx context.Context, db executor, ownerID string) (int, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM cart_items WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func queryListCartItems(ctx context.Context, db executor, ownerID string) ([]*model.CartItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+cartItemColumns+` FROM cart_items WHERE owner_id = $1 ORDER BY added_at, id`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCartItems(rows)
}
