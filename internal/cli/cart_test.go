package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marketcart/internal/cart"
	"github.com/roach88/marketcart/internal/repository"
	"github.com/roach88/marketcart/internal/store"
)

// persistedCart reads the cart straight from the SQLite file under dir.
func persistedCart(t *testing.T, dir string) cart.Cart {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(dir, "cart.db"))
	require.NoError(t, err)
	defer st.Close()

	raw, ok, err := st.Get(context.Background(), repository.DefaultKey)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	c, err := cart.Decode(raw)
	require.NoError(t, err)
	return c
}

// seedCart writes c straight into the SQLite file under dir.
func seedCart(t *testing.T, dir string, c cart.Cart) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(dir, "cart.db"))
	require.NoError(t, err)
	defer st.Close()

	raw, err := cart.Encode(c)
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), repository.DefaultKey, raw))
}

func TestCart_AddAndShow(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	_, err := execute(t, "--config", cfg, "cart", "add", "1", "--price", "10", "--qty", "2", "--discount", "20", "--title", "Walnut Desk Organizer")
	require.NoError(t, err)
	_, err = execute(t, "--config", cfg, "cart", "add", "2", "--price", "3.33", "--qty", "3", "--title", "Brass Pen")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfg, "cart", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Cart (5 items):")
	assert.Contains(t, out, "[1] Walnut Desk Organizer: 2 x $8.00 (-20%) = $16.00")
	assert.Contains(t, out, "[2] Brass Pen: 3 x $3.33 = $9.99")
	assert.Contains(t, out, "Original Total: $29.99")
	assert.Contains(t, out, "Savings: $4.00")
	assert.Contains(t, out, "Total: $25.99")

	out, err = execute(t, "--config", cfg, "cart", "totals")
	require.NoError(t, err)
	assert.Equal(t, "Items: 5\nOriginal Total: $29.99\nSavings: $4.00\nTotal: $25.99\n", out)

	persisted := persistedCart(t, dir)
	require.Len(t, persisted, 2)
	assert.Equal(t, cart.ItemID("1"), persisted[0].ID)
}

func TestCart_JSONOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	out, err := execute(t, "--config", cfg, "--format", "json", "cart", "add", "9", "--price", "4.50", "--qty", "2")
	require.NoError(t, err)

	var resp struct {
		Status string   `json:"status"`
		Data   cartView `json:"data"`
		Notice string   `json:"notice"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.Notice)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, 2, resp.Data.Totals.TotalQuantity)
	assert.True(t, decimal.RequireFromString("9").Equal(resp.Data.Totals.DiscountedTotal))
}

func TestCart_QuantityRemoveAndClear(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	_, err := execute(t, "--config", cfg, "cart", "add", "1", "--price", "1")
	require.NoError(t, err)
	_, err = execute(t, "--config", cfg, "cart", "add", "2", "--price", "1")
	require.NoError(t, err)

	_, err = execute(t, "--config", cfg, "cart", "qty", "1", "5")
	require.NoError(t, err)
	c := persistedCart(t, dir)
	require.Len(t, c, 2)
	assert.Equal(t, 5, c[0].Quantity)

	_, err = execute(t, "--config", cfg, "cart", "qty", "1", "0")
	require.NoError(t, err)
	c = persistedCart(t, dir)
	require.Len(t, c, 1)
	assert.Equal(t, cart.ItemID("2"), c[0].ID)

	_, err = execute(t, "--config", cfg, "cart", "remove", "2")
	require.NoError(t, err)
	assert.Empty(t, persistedCart(t, dir))

	_, err = execute(t, "--config", cfg, "cart", "add", "3", "--price", "1")
	require.NoError(t, err)
	out, err := execute(t, "--config", cfg, "cart", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cart is empty.")
	assert.Empty(t, persistedCart(t, dir))
}

func TestCart_GrantAndStrip(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	_, err := execute(t, "--config", cfg, "cart", "add", "1", "--price", "10")
	require.NoError(t, err)

	_, err = execute(t, "--config", cfg, "cart", "grant", "1", "15")
	require.NoError(t, err)
	c := persistedCart(t, dir)
	require.Len(t, c, 1)
	assert.Equal(t, 15, c[0].DiscountPercent)

	_, err = execute(t, "--config", cfg, "cart", "strip", "1")
	require.NoError(t, err)
	c = persistedCart(t, dir)
	assert.Equal(t, 0, c[0].DiscountPercent)
	assert.True(t, decimal.NewFromInt(10).Equal(c[0].Price))
}

func TestCart_ShowExpiresLapsedDiscounts(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	seedCart(t, dir, cart.Cart{
		{ID: "old", Price: decimal.NewFromInt(10), Quantity: 1, DiscountPercent: 20, AddedAt: time.Now().Add(-30 * time.Minute).UTC()},
		{ID: "new", Price: decimal.NewFromInt(10), Quantity: 1, DiscountPercent: 20, AddedAt: time.Now().UTC()},
	})

	out, err := execute(t, "--config", cfg, "cart", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[old] -: 1 x $10.00 = $10.00")
	assert.Contains(t, out, "[new] -: 1 x $8.00 (-20%) = $8.00")

	c := persistedCart(t, dir)
	require.Len(t, c, 2)
	assert.Equal(t, 0, c[0].DiscountPercent)
	assert.Equal(t, 20, c[1].DiscountPercent)
}

func TestCart_InvalidInput(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	tests := []struct {
		name string
		args []string
	}{
		{"bad price", []string{"cart", "add", "1", "--price", "abc"}},
		{"negative price", []string{"cart", "add", "1", "--price", "-1"}},
		{"discount out of range", []string{"cart", "add", "1", "--price", "1", "--discount", "100"}},
		{"bad quantity", []string{"cart", "qty", "1", "many"}},
		{"bad percent", []string{"cart", "grant", "1", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"--config", cfg}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
	assert.Empty(t, persistedCart(t, dir))
}

func TestCart_AddRequiresPrice(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t, t.TempDir()), "cart", "add", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "price")
}

func TestWindowsCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	seedCart(t, dir, cart.Cart{
		{ID: "a", Price: decimal.NewFromInt(10), Quantity: 1, DiscountPercent: 20, AddedAt: time.Now().Add(-17 * time.Minute).UTC()},
		{ID: "b", Price: decimal.NewFromInt(10), Quantity: 1},
	})

	out, err := execute(t, "--config", cfg, "windows")
	require.NoError(t, err)
	assert.Contains(t, out, "a\texpiring\t-20%")
	assert.Contains(t, out, "b\tno_discount")

	out, err = execute(t, "--config", cfg, "--format", "json", "windows")
	require.NoError(t, err)
	var resp struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "expiring", resp.Data[0]["state"])
	assert.Equal(t, "no_discount", resp.Data[1]["state"])
}
