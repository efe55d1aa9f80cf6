package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/go-order-engine/internal/inventory"
	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/shopspring/decimal"
)

var (
	alice = Caller{UserID: "alice"}
	bob   = Caller{UserID: "bob"}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func v(id, price string, stock int) inventory.Variant {
	return inventory.Variant{ID: id, SKU: "SKU-" + id, ProductName: "Tee", Color: "red", Size: "M",
		Price: dec(price), Stock: stock, Active: true}
}

type recorder struct {
	mu     sync.Mutex
	events []orders.Envelope
}

func (r *recorder) Publish(_ context.Context, ev orders.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

// flakyRepo fails Save while failSave is set.
type flakyRepo struct {
	*orders.MemoryRepo
	failSave atomic.Bool
}

func (r *flakyRepo) Save(ctx context.Context, o *orders.Order) error {
	if r.failSave.Load() {
		return errors.New("connection reset")
	}
	return r.MemoryRepo.Save(ctx, o)
}

type fixture struct {
	ledger *inventory.MemoryLedger
	repo   *flakyRepo
	pub    *recorder
	c      *Coordinator
}

func newFixture(variants ...inventory.Variant) *fixture {
	f := &fixture{
		ledger: inventory.NewMemoryLedger(variants...),
		repo:   &flakyRepo{MemoryRepo: orders.NewMemoryRepo()},
		pub:    &recorder{},
	}
	f.c = New(f.ledger, f.repo, WithPublisher(f.pub))
	return f
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	vr, err := f.ledger.GetVariant(context.Background(), id)
	if err != nil {
		t.Fatalf("GetVariant(%s): %v", id, err)
	}
	return vr.Stock
}

func (f *fixture) create(t *testing.T, caller Caller, lines ...LineInput) orders.View {
	t.Helper()
	o, err := f.c.CreateOrder(context.Background(), caller, CreateOrderInput{
		ShippingAddress: "1 Main St", PaymentMethod: "card", Items: lines,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

func assertTotal(t *testing.T, o orders.View) {
	t.Helper()
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if !o.TotalAmount.Equal(sum) {
		t.Fatalf("total = %s, lines sum to %s", o.TotalAmount, sum)
	}
}

func TestCreateOrder_ReservesAndTotals(t *testing.T) {
	f := newFixture(v("A", "10.00", 10), v("B", "5.00", 1))
	o := f.create(t, alice, LineInput{"A", 2}, LineInput{"B", 1})

	if o.Status != orders.StatusPending {
		t.Errorf("status = %s", o.Status)
	}
	if !o.TotalAmount.Equal(dec("25.00")) {
		t.Errorf("total = %s", o.TotalAmount)
	}
	if got := f.stock(t, "A"); got != 8 {
		t.Errorf("A stock = %d", got)
	}
	if got := f.stock(t, "B"); got != 0 {
		t.Errorf("B stock = %d", got)
	}
	if o.ItemCount != 2 || o.Items[0].VariantName != "red / M" {
		t.Errorf("view = %+v", o)
	}
	if ts := f.pub.types(); len(ts) != 1 || ts[0] != orders.EventOrderCreated {
		t.Errorf("events = %v", ts)
	}
}

func TestCreateOrder_PartialFailureRollsBack(t *testing.T) {
	f := newFixture(v("A", "10.00", 10), v("B", "5.00", 1))
	_, err := f.c.CreateOrder(context.Background(), alice, CreateOrderInput{
		ShippingAddress: "x", PaymentMethod: "card",
		Items: []LineInput{{"A", 2}, {"B", 2}},
	})
	if !errors.Is(err, orders.ErrOutOfStock) {
		t.Fatalf("err = %v", err)
	}
	if e, _ := orders.AsError(err); e.VariantID != "B" || e.Requested != 2 || e.Available != 1 || e.Op != opCreate {
		t.Errorf("error context = %+v", e)
	}
	if got := f.stock(t, "A"); got != 10 {
		t.Errorf("A stock = %d, reservation leaked", got)
	}
	if list, _ := f.repo.List(context.Background(), ""); len(list) != 0 {
		t.Errorf("orders persisted: %d", len(list))
	}
}

func TestCreateOrder_SaveFailureRollsBack(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	f.repo.failSave.Store(true)
	_, err := f.c.CreateOrder(context.Background(), alice, CreateOrderInput{
		ShippingAddress: "x", PaymentMethod: "card", Items: []LineInput{{"A", 4}},
	})
	if err == nil || orders.KindOf(err) != nil {
		t.Fatalf("want opaque persistence error, got %v", err)
	}
	if got := f.stock(t, "A"); got != 10 {
		t.Errorf("A stock = %d", got)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	ctx := context.Background()
	cases := []struct {
		name   string
		caller Caller
		in     CreateOrderInput
	}{
		{"no user", Caller{}, CreateOrderInput{ShippingAddress: "x", PaymentMethod: "card"}},
		{"no address", alice, CreateOrderInput{PaymentMethod: "card"}},
		{"no payment", alice, CreateOrderInput{ShippingAddress: "x"}},
		{"zero qty", alice, CreateOrderInput{ShippingAddress: "x", PaymentMethod: "card", Items: []LineInput{{"A", 0}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.c.CreateOrder(ctx, tc.caller, tc.in); !errors.Is(err, orders.ErrInvalidArgument) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestCreateOrder_MergesDuplicateLines(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	o := f.create(t, alice, LineInput{"A", 2}, LineInput{"A", 3})
	if len(o.Items) != 1 || o.Items[0].Quantity != 5 {
		t.Fatalf("items = %+v", o.Items)
	}
	if got := f.stock(t, "A"); got != 5 {
		t.Errorf("stock = %d", got)
	}
}

func TestCreateOrder_ExternalIDIsIdempotent(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	ctx := context.Background()
	in := CreateOrderInput{ExternalID: "cart-1", ShippingAddress: "x", PaymentMethod: "card", Items: []LineInput{{"A", 2}}}

	first, err := f.c.CreateOrder(ctx, alice, in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.c.CreateOrder(ctx, alice, in)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ: %s vs %s", first.ID, second.ID)
	}
	if got := f.stock(t, "A"); got != 8 {
		t.Errorf("stock = %d, reserved twice", got)
	}
	other, err := f.c.CreateOrder(ctx, bob, in)
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == first.ID {
		t.Error("external id leaked across users")
	}
}

func TestAddItem_NewLineAndMerge(t *testing.T) {
	f := newFixture(v("A", "10.00", 10), v("B", "5.00", 5))
	ctx := context.Background()
	o := f.create(t, alice, LineInput{"A", 1})

	o, err := f.c.AddItem(ctx, alice, o.ID, LineInput{"B", 2})
	if err != nil {
		t.Fatal(err)
	}
	assertTotal(t, o)
	if len(o.Items) != 2 || f.stock(t, "B") != 3 {
		t.Fatalf("items=%d stock=%d", len(o.Items), f.stock(t, "B"))
	}

	// price change after the first reservation must not touch the merged line
	_ = f.ledger.UpsertVariant(ctx, v("A", "99.00", 9))
	o, err = f.c.AddItem(ctx, alice, o.ID, LineInput{"A", 2})
	if err != nil {
		t.Fatal(err)
	}
	assertTotal(t, o)
	if o.Items[0].Quantity != 3 || !o.Items[0].UnitPrice.Equal(dec("10.00")) {
		t.Fatalf("merged line = %+v", o.Items[0])
	}
	if got := f.stock(t, "A"); got != 7 {
		t.Errorf("A stock = %d", got)
	}
}

func TestAddItem_OutOfStockLeavesOrderUnchanged(t *testing.T) {
	f := newFixture(v("A", "10.00", 2))
	o := f.create(t, alice, LineInput{"A", 1})
	_, err := f.c.AddItem(context.Background(), alice, o.ID, LineInput{"A", 2})
	if !errors.Is(err, orders.ErrOutOfStock) {
		t.Fatalf("err = %v", err)
	}
	got, _ := f.c.GetOrder(context.Background(), alice, o.ID)
	if got.Items[0].Quantity != 1 || f.stock(t, "A") != 1 {
		t.Fatalf("qty=%d stock=%d", got.Items[0].Quantity, f.stock(t, "A"))
	}
}

func TestAddItem_SaveFailureReleasesReservation(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	o := f.create(t, alice, LineInput{"A", 1})
	f.repo.failSave.Store(true)
	if _, err := f.c.AddItem(context.Background(), alice, o.ID, LineInput{"A", 4}); err == nil {
		t.Fatal("expected error")
	}
	if got := f.stock(t, "A"); got != 9 {
		t.Fatalf("stock = %d", got)
	}
}

func TestAddItem_InactiveVariant(t *testing.T) {
	off := v("B", "5.00", 5)
	off.Active = false
	f := newFixture(v("A", "10.00", 10), off)
	o := f.create(t, alice, LineInput{"A", 1})
	if _, err := f.c.AddItem(context.Background(), alice, o.ID, LineInput{"B", 1}); !errors.Is(err, orders.ErrVariantUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateItemQuantity_AdjustsStock(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	ctx := context.Background()
	o := f.create(t, alice, LineInput{"A", 2})
	itemID := o.Items[0].ID

	o, err := f.c.UpdateItemQuantity(ctx, alice, o.ID, itemID, 5)
	if err != nil {
		t.Fatal(err)
	}
	assertTotal(t, o)
	if got := f.stock(t, "A"); got != 5 {
		t.Fatalf("after increase stock = %d", got)
	}
	o, err = f.c.UpdateItemQuantity(ctx, alice, o.ID, itemID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.stock(t, "A"); got != 9 {
		t.Fatalf("after decrease stock = %d", got)
	}
	if _, err := f.c.UpdateItemQuantity(ctx, alice, o.ID, itemID, 50); !errors.Is(err, orders.ErrOutOfStock) {
		t.Fatalf("over-increase: %v", err)
	}
	if _, err := f.c.UpdateItemQuantity(ctx, alice, o.ID, "nope", 1); !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("missing item: %v", err)
	}
}

func TestUpdateItemQuantityZero_EqualsRemove(t *testing.T) {
	f := newFixture(v("A", "10.00", 10), v("B", "5.00", 10))
	ctx := context.Background()
	o1 := f.create(t, alice, LineInput{"A", 3})
	o2 := f.create(t, alice, LineInput{"B", 3})

	a, err := f.c.UpdateItemQuantity(ctx, alice, o1.ID, o1.Items[0].ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.c.RemoveItem(ctx, alice, o2.ID, o2.Items[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Items) != 0 || len(b.Items) != 0 || !a.TotalAmount.IsZero() || !b.TotalAmount.IsZero() {
		t.Fatalf("a=%+v b=%+v", a, b)
	}
	if f.stock(t, "A") != 10 || f.stock(t, "B") != 10 {
		t.Fatalf("stock A=%d B=%d", f.stock(t, "A"), f.stock(t, "B"))
	}
}

func TestClearItems_ReleasesEverything(t *testing.T) {
	f := newFixture(v("A", "10.00", 10), v("B", "5.00", 10))
	o := f.create(t, alice, LineInput{"A", 3}, LineInput{"B", 4})
	o, err := f.c.ClearItems(context.Background(), alice, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(o.Items) != 0 || !o.TotalAmount.IsZero() || o.Status != orders.StatusPending {
		t.Fatalf("view = %+v", o)
	}
	if f.stock(t, "A") != 10 || f.stock(t, "B") != 10 {
		t.Fatal("stock not released")
	}
}

func TestConfirmOrder(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	ctx := context.Background()

	empty := f.create(t, alice)
	if _, err := f.c.ConfirmOrder(ctx, alice, empty.ID); !errors.Is(err, orders.ErrEmptyOrder) {
		t.Fatalf("empty confirm: %v", err)
	}
	if got, _ := f.c.GetOrder(ctx, alice, empty.ID); got.Status != orders.StatusPending {
		t.Fatalf("status = %s", got.Status)
	}

	o := f.create(t, alice, LineInput{"A", 1})
	o, err := f.c.ConfirmOrder(ctx, alice, o.ID)
	if err != nil || o.Status != orders.StatusCreated {
		t.Fatalf("confirm: %v %s", err, o.Status)
	}
	if _, err := f.c.ConfirmOrder(ctx, alice, o.ID); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("double confirm: %v", err)
	}
}

func TestConfirmOrder_DeactivatedVariant(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	ctx := context.Background()
	o := f.create(t, alice, LineInput{"A", 1})
	_ = f.ledger.SetActive(ctx, "A", false)

	_, err := f.c.ConfirmOrder(ctx, alice, o.ID)
	if !errors.Is(err, orders.ErrVariantUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if e, _ := orders.AsError(err); e.VariantID != "A" || e.Current != orders.StatusPending {
		t.Errorf("error context = %+v", e)
	}
}

func TestCancelPaidOrder_RestoresStock(t *testing.T) {
	f := newFixture(v("A", "10.00", 10), v("B", "5.00", 1))
	ctx := context.Background()
	o := f.create(t, alice, LineInput{"A", 2}, LineInput{"B", 1})
	if _, err := f.c.ConfirmOrder(ctx, alice, o.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.MarkAsPaid(ctx, o.ID, "tx-1"); err != nil {
		t.Fatal(err)
	}

	o, err := f.c.CancelOrder(ctx, alice, o.ID, "changed my mind")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != orders.StatusCancelled || o.CancelReason != "changed my mind" {
		t.Fatalf("view = %+v", o)
	}
	if f.stock(t, "A") != 10 || f.stock(t, "B") != 1 {
		t.Fatalf("stock A=%d B=%d", f.stock(t, "A"), f.stock(t, "B"))
	}
	if _, err := f.c.CancelOrder(ctx, alice, o.ID, ""); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("second cancel: %v", err)
	}
	if f.stock(t, "A") != 10 {
		t.Fatal("second cancel released again")
	}
}

func TestMarkAsPaid_FromPendingWalksCreated(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	o := f.create(t, alice, LineInput{"A", 1})
	o, err := f.c.MarkAsPaid(context.Background(), o.ID, "tx-9")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != orders.StatusPaid || o.PaymentStatus != orders.PaymentPaid || o.TransactionID != "tx-9" {
		t.Fatalf("view = %+v", o)
	}
}

func TestMarkPaymentFailed(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	ctx := context.Background()
	o := f.create(t, alice, LineInput{"A", 1})
	o, err := f.c.MarkPaymentFailed(ctx, o.ID, "card declined")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != orders.StatusPending || o.PaymentStatus != orders.PaymentFailed {
		t.Fatalf("view = %+v", o)
	}
	if _, err := f.c.MarkAsPaid(ctx, o.ID, "tx-2"); err != nil {
		t.Fatalf("retry payment: %v", err)
	}
	if _, err := f.c.MarkPaymentFailed(ctx, o.ID, "late"); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("after paid: %v", err)
	}
}

func TestFulfilment_ShippedIsFrozen(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	ctx := context.Background()
	o := f.create(t, alice, LineInput{"A", 1})
	if _, err := f.c.MarkAsShipped(ctx, o.ID); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("ship pending: %v", err)
	}
	if _, err := f.c.MarkAsPaid(ctx, o.ID, "tx"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.MarkAsShipped(ctx, o.ID); err != nil {
		t.Fatal(err)
	}

	_, err := f.c.AddItem(ctx, alice, o.ID, LineInput{"A", 1})
	if !errors.Is(err, orders.ErrOrderNotModifiable) {
		t.Fatalf("add to shipped: %v", err)
	}
	if e, _ := orders.AsError(err); e.Current != orders.StatusShipped {
		t.Errorf("current = %s", e.Current)
	}
	if _, err := f.c.RemoveItem(ctx, alice, o.ID, o.Items[0].ID); !errors.Is(err, orders.ErrOrderNotModifiable) {
		t.Fatalf("remove from shipped: %v", err)
	}
	if _, err := f.c.CancelOrder(ctx, alice, o.ID, ""); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("cancel shipped: %v", err)
	}
	if got := f.stock(t, "A"); got != 9 {
		t.Fatalf("stock = %d", got)
	}

	o, err = f.c.MarkAsDelivered(ctx, o.ID)
	if err != nil || o.Status != orders.StatusDelivered {
		t.Fatalf("deliver: %v %s", err, o.Status)
	}
	if err := f.c.DeleteOrder(ctx, alice, o.ID); !errors.Is(err, orders.ErrOrderNotModifiable) {
		t.Fatalf("delete delivered: %v", err)
	}
}

func TestUpdateStatus_Dispatch(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	ctx := context.Background()
	o := f.create(t, alice, LineInput{"A", 2})

	if _, err := f.c.UpdateStatus(ctx, o.ID, orders.StatusDelivered, ""); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("skip ahead: %v", err)
	}
	if got, _ := f.c.GetOrder(ctx, alice, o.ID); got.Status != orders.StatusPending {
		t.Fatalf("status changed to %s", got.Status)
	}
	if _, err := f.c.UpdateStatus(ctx, o.ID, "LOST", ""); !errors.Is(err, orders.ErrInvalidArgument) {
		t.Fatalf("unknown: %v", err)
	}
	for _, to := range []orders.Status{orders.StatusCreated, orders.StatusPaid, orders.StatusShipped, orders.StatusDelivered} {
		got, err := f.c.UpdateStatus(ctx, o.ID, to, "")
		if err != nil || got.Status != to {
			t.Fatalf("to %s: %v", to, err)
		}
	}

	o2 := f.create(t, alice, LineInput{"A", 3})
	if _, err := f.c.UpdateStatus(ctx, o2.ID, orders.StatusCancelled, "fraud"); err != nil {
		t.Fatal(err)
	}
	if got := f.stock(t, "A"); got != 8 {
		t.Fatalf("stock = %d, cancel via status must release", got)
	}
}

func TestDeleteOrder_ReleasesStock(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	ctx := context.Background()
	o := f.create(t, alice, LineInput{"A", 4})
	if err := f.c.DeleteOrder(ctx, alice, o.ID); err != nil {
		t.Fatal(err)
	}
	if got := f.stock(t, "A"); got != 10 {
		t.Fatalf("stock = %d", got)
	}
	if _, err := f.c.GetOrder(ctx, alice, o.ID); !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("get deleted: %v", err)
	}
}

func TestOwnership(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	ctx := context.Background()
	o := f.create(t, alice, LineInput{"A", 1})

	if _, err := f.c.GetOrder(ctx, bob, o.ID); !errors.Is(err, orders.ErrOwnershipMismatch) {
		t.Fatalf("get: %v", err)
	}
	if _, err := f.c.AddItem(ctx, bob, o.ID, LineInput{"A", 1}); !errors.Is(err, orders.ErrOwnershipMismatch) {
		t.Fatalf("add: %v", err)
	}
	if got := f.stock(t, "A"); got != 9 {
		t.Fatalf("stock = %d", got)
	}
	if _, err := f.c.GetOrder(ctx, Caller{UserID: "ops", Admin: true}, o.ID); err != nil {
		t.Fatalf("admin get: %v", err)
	}

	f.create(t, bob, LineInput{"A", 1})
	mine, _ := f.c.ListOrders(ctx, alice)
	all, _ := f.c.ListOrders(ctx, System)
	if len(mine) != 1 || len(all) != 2 {
		t.Fatalf("mine=%d all=%d", len(mine), len(all))
	}
}

func TestRecalculateTotal_Idempotent(t *testing.T) {
	f := newFixture(v("A", "10.00", 10))
	ctx := context.Background()
	o := f.create(t, alice, LineInput{"A", 3})

	stored, _ := f.repo.Get(ctx, o.ID)
	stored.TotalAmount = dec("1.00")
	_ = f.repo.MemoryRepo.Save(ctx, stored)

	first, err := f.c.RecalculateTotal(ctx, alice, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.c.RecalculateTotal(ctx, alice, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !first.TotalAmount.Equal(dec("30.00")) || !second.TotalAmount.Equal(first.TotalAmount) {
		t.Fatalf("first=%s second=%s", first.TotalAmount, second.TotalAmount)
	}
}

func TestCheckStockAndAvailability(t *testing.T) {
	off := v("B", "5.00", 5)
	off.Active = false
	f := newFixture(v("A", "10.00", 2), off, v("C", "1.00", 0))
	ctx := context.Background()

	if ok, _ := f.c.CheckStock(ctx, "A", 2); !ok {
		t.Error("A,2 should be in stock")
	}
	if ok, _ := f.c.CheckStock(ctx, "A", 3); ok {
		t.Error("A,3 should not be in stock")
	}
	if !f.c.IsVariantAvailable(ctx, "A") || f.c.IsVariantAvailable(ctx, "B") ||
		f.c.IsVariantAvailable(ctx, "C") || f.c.IsVariantAvailable(ctx, "Z") {
		t.Error("availability mismatch")
	}
}

func TestConcurrentAddItem_SameOrder(t *testing.T) {
	f := newFixture(v("A", "10.00", 100))
	ctx := context.Background()
	o := f.create(t, alice, LineInput{"A", 1})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.c.AddItem(ctx, alice, o.ID, LineInput{"A", 2}); err != nil {
				t.Errorf("add: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := f.c.GetOrder(ctx, alice, o.ID)
	if len(got.Items) != 1 || got.Items[0].Quantity != 41 {
		t.Fatalf("items = %+v", got.Items)
	}
	assertTotal(t, got)
	if s := f.stock(t, "A"); s != 59 {
		t.Fatalf("stock = %d, want 59", s)
	}
}

func TestConcurrentOrders_ScarceStock(t *testing.T) {
	f := newFixture(v("A", "10.00", 5))
	ctx := context.Background()

	var (
		wg         sync.WaitGroup
		ok, failed atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.c.CreateOrder(ctx, alice, CreateOrderInput{
				ShippingAddress: "x", PaymentMethod: "card", Items: []LineInput{{"A", 3}},
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, orders.ErrOutOfStock):
				failed.Add(1)
			default:
				t.Errorf("unexpected: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 || failed.Load() != 1 || f.stock(t, "A") != 2 {
		t.Fatalf("ok=%d failed=%d stock=%d", ok.Load(), failed.Load(), f.stock(t, "A"))
	}
}
