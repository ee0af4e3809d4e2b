package sales

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vigor-gym/vigor/internal/inventory"
	"github.com/vigor-gym/vigor/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	sales   map[string]Sale
	refunds map[string]Refund
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sales: make(map[string]Sale), refunds: make(map[string]Refund)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{
		sales:   cloneSales(r.sales),
		refunds: cloneRefunds(r.refunds),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.sales = tx.sales
	r.refunds = tx.refunds
	return nil
}

func cloneSales(in map[string]Sale) map[string]Sale {
	out := make(map[string]Sale, len(in))
	for k, v := range in {
		v.Items = append([]SaleItem(nil), v.Items...)
		v.Payments = append([]PaymentDetail(nil), v.Payments...)
		out[k] = v
	}
	return out
}

func cloneRefunds(in map[string]Refund) map[string]Refund {
	out := make(map[string]Refund, len(in))
	for k, v := range in {
		v.Items = append([]RefundItem(nil), v.Items...)
		out[k] = v
	}
	return out
}

func (r *memoryRepo) GetSale(_ context.Context, id string) (Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sales[id]
	if !ok {
		return Sale{}, ErrNotFound
	}
	return s, nil
}

func (r *memoryRepo) ListSales(_ context.Context, filter ListFilter) ([]Sale, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sale
	for _, s := range r.sales {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.Type != "" && s.Type != filter.Type {
			continue
		}
		out = append(out, s)
	}
	return out, len(out), nil
}

func (r *memoryRepo) ListExpiredLayaways(_ context.Context, before string) ([]Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sale
	for _, s := range r.sales {
		if s.Type == SaleLayaway && s.Status == StatusPending &&
			s.ExpiresAt != nil && *s.ExpiresAt < before {
			out = append(out, s)
		}
	}
	return out, nil
}

type memoryTx struct {
	sales   map[string]Sale
	refunds map[string]Refund
}

func (t *memoryTx) GetSaleForUpdate(_ context.Context, id string) (Sale, error) {
	s, ok := t.sales[id]
	if !ok {
		return Sale{}, ErrNotFound
	}
	return s, nil
}

func (t *memoryTx) CountSalesWithPrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, s := range t.sales {
		if len(s.SaleNumber) >= len(prefix) && s.SaleNumber[:len(prefix)] == prefix {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) InsertSale(_ context.Context, s Sale, _ shared.AuditStamp) error {
	t.sales[s.ID] = s
	return nil
}

func (t *memoryTx) InsertSaleItems(_ context.Context, items []SaleItem) error {
	if len(items) == 0 {
		return nil
	}
	s := t.sales[items[0].SaleID]
	s.Items = append([]SaleItem(nil), items...)
	t.sales[s.ID] = s
	return nil
}

func (t *memoryTx) InsertPayment(_ context.Context, p PaymentDetail) error {
	s, ok := t.sales[p.SaleID]
	if !ok {
		return ErrNotFound
	}
	s.Payments = append(s.Payments, p)
	t.sales[s.ID] = s
	return nil
}

func (t *memoryTx) UpdateSale(_ context.Context, s Sale, _ shared.AuditStamp) error {
	stored, ok := t.sales[s.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = s.Status
	stored.PaymentStatus = s.PaymentStatus
	stored.PaidAmount = s.PaidAmount
	stored.PendingAmount = s.PendingAmount
	stored.RefundAmount = s.RefundAmount
	stored.Notes = s.Notes
	stored.Payments = s.Payments
	t.sales[s.ID] = stored
	return nil
}

func (t *memoryTx) RefundedQuantities(_ context.Context, saleID string) (map[string]int, error) {
	out := make(map[string]int)
	for _, rf := range t.refunds {
		if rf.SaleID != saleID {
			continue
		}
		for _, it := range rf.Items {
			out[it.SaleItemID] += it.Quantity
		}
	}
	return out, nil
}

func (t *memoryTx) InsertRefund(_ context.Context, rf Refund) error {
	t.refunds[rf.ID] = rf
	return nil
}

func (t *memoryTx) DeleteRefund(_ context.Context, refundID string) error {
	delete(t.refunds, refundID)
	return nil
}

// fakeInventory records ledger calls without maintaining real counters.
type fakeInventory struct {
	mu       sync.Mutex
	products map[string]inventory.Product
	calls    []string
	failOn   map[string]error
}

func newFakeInventory(products ...inventory.Product) *fakeInventory {
	f := &fakeInventory{products: make(map[string]inventory.Product), failOn: make(map[string]error)}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeInventory) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	return f.failOn[method]
}

func (f *fakeInventory) Product(_ context.Context, id string) (inventory.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeInventory) ValidateAvailability(_ context.Context, items []inventory.ItemRequest) error {
	var shortages []inventory.StockShortage
	for _, it := range items {
		p, ok := f.products[it.ProductID]
		if !ok {
			return inventory.ErrProductNotFound
		}
		if avail := p.Available(); it.Quantity > avail {
			shortages = append(shortages, inventory.StockShortage{
				ProductID: p.ID, ProductName: p.Name, Requested: it.Quantity, Available: avail,
			})
		}
	}
	if len(shortages) > 0 {
		return &inventory.StockValidationError{Shortages: shortages}
	}
	return nil
}

func (f *fakeInventory) ProcessSale(_ context.Context, _ string, _ []inventory.ItemRequest) ([]inventory.Movement, error) {
	return nil, f.record("ProcessSale")
}

func (f *fakeInventory) ReserveLayaway(_ context.Context, _ string, _ []inventory.ItemRequest) ([]inventory.Movement, error) {
	return nil, f.record("ReserveLayaway")
}

func (f *fakeInventory) CompleteLayaway(_ context.Context, _ string, _ []inventory.ItemRequest) ([]inventory.Movement, error) {
	return nil, f.record("CompleteLayaway")
}

func (f *fakeInventory) CancelLayaway(_ context.Context, _ string, _ []inventory.ItemRequest) ([]inventory.Movement, error) {
	return nil, f.record("CancelLayaway")
}

func (f *fakeInventory) ProcessRefund(_ context.Context, _ string, _ []inventory.ItemRequest) ([]inventory.Movement, error) {
	return nil, f.record("ProcessRefund")
}

func (f *fakeInventory) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func testProduct(id string, price float64, stock int) inventory.Product {
	return inventory.Product{ID: id, Name: "Product " + id, Price: price, Cost: price / 2, CurrentStock: stock, Active: true}
}

func taxedProduct(id string, price, taxRate float64, stock int) inventory.Product {
	p := testProduct(id, price, stock)
	p.TaxRate = taxRate
	return p
}

func testService(t *testing.T, repo *memoryRepo, inv *fakeInventory, today string) *Service {
	t.Helper()
	cal, err := shared.NewCalendar(shared.DefaultTimezone)
	require.NoError(t, err)
	day, err := time.Parse(shared.DateLayout, today)
	require.NoError(t, err)
	fixed := time.Date(day.Year(), day.Month(), day.Day(), 18, 0, 0, 0, time.UTC)
	return NewService(repo, inv, nil, cal.WithNow(func() time.Time { return fixed }), Config{}, nil)
}

const productA = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
const productB = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"

func TestCreateDirectSale(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 5), testProduct(productB, 40, 10))
	svc := testService(t, repo, inv, "2025-02-01")

	sale, err := svc.CreateDirectSale(context.Background(), CreateSaleInput{
		Items: []SaleItemInput{
			{ProductID: productA, Quantity: 2},
			{ProductID: productB, Quantity: 1},
		},
		DiscountAmount: 20,
		PaymentMethod:  "efectivo",
	})
	require.NoError(t, err)
	require.Equal(t, "202502010001", sale.SaleNumber)
	require.Equal(t, SaleDirect, sale.Type)
	require.Equal(t, StatusCompleted, sale.Status)
	require.Equal(t, PaymentPaid, sale.PaymentStatus)
	require.Equal(t, 240.0, sale.Subtotal)
	require.Equal(t, 220.0, sale.Total)
	require.Equal(t, 220.0, sale.PaidAmount)
	require.Zero(t, sale.PendingAmount)
	require.Len(t, sale.Items, 2)
	require.Len(t, sale.Payments, 1)
	require.Equal(t, 220.0, sale.Payments[0].Amount)
	require.Equal(t, 1, inv.callCount("ProcessSale"))
}

func TestSaleNumbersIncrementPerDay(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 50))
	svc := testService(t, repo, inv, "2025-02-01")
	ctx := context.Background()

	input := CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 1}},
		PaymentMethod: "efectivo",
	}
	first, err := svc.CreateDirectSale(ctx, input)
	require.NoError(t, err)
	second, err := svc.CreateDirectSale(ctx, input)
	require.NoError(t, err)
	require.Equal(t, "202502010001", first.SaleNumber)
	require.Equal(t, "202502010002", second.SaleNumber)
}

func TestCreateDirectSaleAppliesTax(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(taxedProduct(productA, 100, 0.16, 5))
	svc := testService(t, repo, inv, "2025-02-01")

	sale, err := svc.CreateDirectSale(context.Background(), CreateSaleInput{
		Items:          []SaleItemInput{{ProductID: productA, Quantity: 2}},
		DiscountAmount: 20,
		PaymentMethod:  "tarjeta",
	})
	require.NoError(t, err)
	require.Equal(t, 200.0, sale.Subtotal)
	require.Equal(t, 32.0, sale.TaxAmount)
	require.Equal(t, 212.0, sale.Total)
	require.Equal(t, sale.Subtotal+sale.TaxAmount-sale.DiscountAmount, sale.Total)
	require.Equal(t, 212.0, sale.PaidAmount)

	require.Len(t, sale.Items, 1)
	require.Equal(t, 0.16, sale.Items[0].TaxRate)
	require.Equal(t, 32.0, sale.Items[0].TaxAmount)
	require.Equal(t, 200.0, sale.Items[0].TotalPrice)
}

func TestSaleNumbersDistinctUnderConcurrentCreates(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 100))
	svc := testService(t, repo, inv, "2025-02-01")
	ctx := context.Background()

	const workers = 8
	type result struct {
		number string
		err    error
	}
	results := make(chan result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sale, err := svc.CreateDirectSale(ctx, CreateSaleInput{
				Items:         []SaleItemInput{{ProductID: productA, Quantity: 1}},
				PaymentMethod: "efectivo",
			})
			results <- result{number: sale.SaleNumber, err: err}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool, workers)
	for r := range results {
		require.NoError(t, r.err)
		require.False(t, seen[r.number], "sale number %s minted twice", r.number)
		seen[r.number] = true
	}
	require.Len(t, seen, workers)
}

func TestCreateDirectSaleRejectsShortage(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 1))
	svc := testService(t, repo, inv, "2025-02-01")

	_, err := svc.CreateDirectSale(context.Background(), CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 3}},
		PaymentMethod: "efectivo",
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	// Nothing persisted when validation fails up front.
	items, _, lerr := repo.ListSales(context.Background(), ListFilter{})
	require.NoError(t, lerr)
	require.Empty(t, items)
	require.Zero(t, inv.callCount("ProcessSale"))
}

func TestCreateDirectSaleCompensatesLedgerFailure(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 5))
	inv.failOn["ProcessSale"] = errors.New("ledger down")
	svc := testService(t, repo, inv, "2025-02-01")

	_, err := svc.CreateDirectSale(context.Background(), CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 1}},
		PaymentMethod: "efectivo",
	})
	require.Error(t, err)

	// The sale row is voided, not left looking successful.
	items, _, lerr := repo.ListSales(context.Background(), ListFilter{})
	require.NoError(t, lerr)
	require.Len(t, items, 1)
	require.Equal(t, StatusCancelled, items[0].Status)
	require.Contains(t, items[0].Notes, "sale voided")
}

func TestCreateLayawayDefaultDeposit(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 5))
	svc := testService(t, repo, inv, "2025-02-01")

	sale, err := svc.CreateLayawaySale(context.Background(), CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 2}},
		PaymentMethod: "tarjeta",
	})
	require.NoError(t, err)
	require.Equal(t, SaleLayaway, sale.Type)
	require.Equal(t, StatusPending, sale.Status)
	require.Equal(t, PaymentPartial, sale.PaymentStatus)
	require.Equal(t, 200.0, sale.Total)
	require.Equal(t, 100.0, sale.PaidAmount)
	require.Equal(t, 100.0, sale.PendingAmount)
	require.NotNil(t, sale.ExpiresAt)
	require.Equal(t, "2025-03-03", *sale.ExpiresAt)
	require.Equal(t, 1, inv.callCount("ReserveLayaway"))
}

func TestCreateLayawayCustomDeposit(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 5))
	svc := testService(t, repo, inv, "2025-02-01")
	ctx := context.Background()

	sale, err := svc.CreateLayawaySale(ctx, CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 1}},
		PaymentMethod: "efectivo",
		DepositAmount: 100,
	})
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, sale.PaymentStatus)
	require.Zero(t, sale.PendingAmount)

	_, err = svc.CreateLayawaySale(ctx, CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 1}},
		PaymentMethod: "efectivo",
		DepositAmount: 150,
	})
	require.ErrorIs(t, err, ErrInvalidDeposit)
}

func TestAddLayawayPayment(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 5))
	svc := testService(t, repo, inv, "2025-02-01")
	ctx := context.Background()

	sale, err := svc.CreateLayawaySale(ctx, CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 2}},
		PaymentMethod: "efectivo",
	})
	require.NoError(t, err)

	sale, err = svc.AddLayawayPayment(ctx, sale.ID, 60, "efectivo")
	require.NoError(t, err)
	require.Equal(t, 160.0, sale.PaidAmount)
	require.Equal(t, 40.0, sale.PendingAmount)
	require.Equal(t, PaymentPartial, sale.PaymentStatus)

	_, err = svc.AddLayawayPayment(ctx, sale.ID, 50, "efectivo")
	require.ErrorIs(t, err, ErrOverpayment)

	sale, err = svc.AddLayawayPayment(ctx, sale.ID, 40, "efectivo")
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, sale.PaymentStatus)
	require.Zero(t, sale.PendingAmount)

	_, err = svc.AddLayawayPayment(ctx, sale.ID, -1, "efectivo")
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCompleteLayaway(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 5))
	svc := testService(t, repo, inv, "2025-02-01")
	ctx := context.Background()

	sale, err := svc.CreateLayawaySale(ctx, CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 2}},
		PaymentMethod: "efectivo",
	})
	require.NoError(t, err)

	_, err = svc.CompleteLayaway(ctx, sale.ID)
	require.ErrorIs(t, err, ErrPendingBalance)

	_, err = svc.AddLayawayPayment(ctx, sale.ID, 100, "efectivo")
	require.NoError(t, err)

	sale, err = svc.CompleteLayaway(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, sale.Status)
	require.Equal(t, 1, inv.callCount("CompleteLayaway"))

	_, err = svc.CompleteLayaway(ctx, sale.ID)
	require.ErrorIs(t, err, ErrNotPending)
}

func TestCompleteLayawayRevertsOnLedgerFailure(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 5))
	svc := testService(t, repo, inv, "2025-02-01")
	ctx := context.Background()

	sale, err := svc.CreateLayawaySale(ctx, CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 1}},
		PaymentMethod: "efectivo",
		DepositAmount: 100,
	})
	require.NoError(t, err)

	inv.failOn["CompleteLayaway"] = errors.New("ledger down")
	_, err = svc.CompleteLayaway(ctx, sale.ID)
	require.Error(t, err)

	got, err := repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestCancelLayawayReleasesReservation(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 5))
	svc := testService(t, repo, inv, "2025-02-01")
	ctx := context.Background()

	sale, err := svc.CreateLayawaySale(ctx, CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 2}},
		PaymentMethod: "efectivo",
	})
	require.NoError(t, err)

	sale, err = svc.CancelLayaway(ctx, sale.ID, "customer changed mind")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, sale.Status)
	require.Contains(t, sale.Notes, "Cancelled: customer changed mind")
	require.Equal(t, 1, inv.callCount("CancelLayaway"))

	_, err = svc.CancelLayaway(ctx, sale.ID, "again")
	require.ErrorIs(t, err, ErrNotPending)
}

func TestProcessRefund(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 5))
	svc := testService(t, repo, inv, "2025-02-01")
	ctx := context.Background()

	sale, err := svc.CreateDirectSale(ctx, CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 3}},
		PaymentMethod: "efectivo",
	})
	require.NoError(t, err)

	refund, err := svc.ProcessRefund(ctx, sale.ID, []RefundItemInput{
		{SaleItemID: sale.Items[0].ID, Quantity: 2},
	}, "defective")
	require.NoError(t, err)
	require.Equal(t, 200.0, refund.Total)
	require.Len(t, refund.Items, 1)
	require.Equal(t, 1, inv.callCount("ProcessRefund"))

	// A second refund may only return what is left.
	_, err = svc.ProcessRefund(ctx, sale.ID, []RefundItemInput{
		{SaleItemID: sale.Items[0].ID, Quantity: 2},
	}, "defective")
	require.ErrorIs(t, err, ErrRefundExceedsSold)

	_, err = svc.ProcessRefund(ctx, sale.ID, []RefundItemInput{
		{SaleItemID: sale.Items[0].ID, Quantity: 1},
	}, "defective")
	require.NoError(t, err)
}

func TestFullRefundMarksSaleRefunded(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 5))
	svc := testService(t, repo, inv, "2025-02-01")
	ctx := context.Background()

	sale, err := svc.CreateDirectSale(ctx, CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 2}},
		PaymentMethod: "efectivo",
	})
	require.NoError(t, err)

	// Returning one of two units leaves the sale completed and
	// refundable for the rest.
	refund, err := svc.ProcessRefund(ctx, sale.ID, []RefundItemInput{
		{SaleItemID: sale.Items[0].ID, Quantity: 1},
	}, "defective")
	require.NoError(t, err)
	require.Equal(t, RefundPartial, refund.Type)

	got, err := repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 100.0, got.RefundAmount)

	// Returning the last unit flips the sale to refunded.
	refund, err = svc.ProcessRefund(ctx, sale.ID, []RefundItemInput{
		{SaleItemID: sale.Items[0].ID, Quantity: 1},
	}, "defective")
	require.NoError(t, err)
	require.Equal(t, RefundFull, refund.Type)

	got, err = repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, got.Status)
	require.Equal(t, PaymentRefunded, got.PaymentStatus)
	require.Equal(t, got.Total, got.RefundAmount)

	// A refunded sale has nothing left to return.
	_, err = svc.ProcessRefund(ctx, sale.ID, []RefundItemInput{
		{SaleItemID: sale.Items[0].ID, Quantity: 1},
	}, "again")
	require.ErrorIs(t, err, ErrNotCompleted)
}

func TestProcessRefundRequiresCompletedSale(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 5))
	svc := testService(t, repo, inv, "2025-02-01")
	ctx := context.Background()

	sale, err := svc.CreateLayawaySale(ctx, CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 1}},
		PaymentMethod: "efectivo",
	})
	require.NoError(t, err)

	_, err = svc.ProcessRefund(ctx, sale.ID, []RefundItemInput{
		{SaleItemID: sale.Items[0].ID, Quantity: 1},
	}, "")
	require.ErrorIs(t, err, ErrNotCompleted)
}

func TestProcessRefundCompensatesLedgerFailure(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 5))
	svc := testService(t, repo, inv, "2025-02-01")
	ctx := context.Background()

	sale, err := svc.CreateDirectSale(ctx, CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 2}},
		PaymentMethod: "efectivo",
	})
	require.NoError(t, err)

	// A full refund whose ledger write fails must not leave the sale
	// marked refunded.
	inv.failOn["ProcessRefund"] = errors.New("ledger down")
	_, err = svc.ProcessRefund(ctx, sale.ID, []RefundItemInput{
		{SaleItemID: sale.Items[0].ID, Quantity: 2},
	}, "")
	require.Error(t, err)

	got, err := repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, PaymentPaid, got.PaymentStatus)
	require.Zero(t, got.RefundAmount)

	// The orphaned refund row was removed, so the full quantity is
	// still refundable.
	inv.failOn = map[string]error{}
	refund, err := svc.ProcessRefund(ctx, sale.ID, []RefundItemInput{
		{SaleItemID: sale.Items[0].ID, Quantity: 2},
	}, "")
	require.NoError(t, err)
	require.Equal(t, 200.0, refund.Total)
	require.Equal(t, RefundFull, refund.Type)
}

func TestExpireOverdueLayaways(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 50))
	svc := testService(t, repo, inv, "2025-02-01")
	ctx := context.Background()

	first, err := svc.CreateLayawaySale(ctx, CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 1}},
		PaymentMethod: "efectivo",
	})
	require.NoError(t, err)
	second, err := svc.CreateLayawaySale(ctx, CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 1}},
		PaymentMethod: "efectivo",
	})
	require.NoError(t, err)

	// Move the clock past the 30-day pickup window.
	later := testService(t, repo, inv, "2025-03-10")
	n, err := later.ExpireOverdueLayaways(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := repo.GetSale(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)
	got, err = repo.GetSale(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)
	require.Equal(t, 2, inv.callCount("CancelLayaway"))
}

func TestExpireOverdueSkipsFresh(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(testProduct(productA, 100, 50))
	svc := testService(t, repo, inv, "2025-02-01")
	ctx := context.Background()

	sale, err := svc.CreateLayawaySale(ctx, CreateSaleInput{
		Items:         []SaleItemInput{{ProductID: productA, Quantity: 1}},
		PaymentMethod: "efectivo",
	})
	require.NoError(t, err)

	n, err := svc.ExpireOverdueLayaways(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}
