package claims

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clearbill/clearbill/internal/domain/billing"
	"github.com/clearbill/clearbill/internal/domain/ledger"
)

type mockRepo struct {
	mu      sync.Mutex
	claims  map[uuid.UUID]*Claim
	numbers map[string]bool

	// forceCollisions makes the next N creates fail with a unique
	// violation on the claim number.
	forceCollisions int

	// submitOnGet flips the stored claim to submitted right after the
	// next read returns its draft copy, simulating a submit racing a
	// delete.
	submitOnGet bool

	// conflictNext makes the next versioned update lose, as if another
	// writer bumped the version between read and write.
	conflictNext bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{claims: map[uuid.UUID]*Claim{}, numbers: map[string]bool{}}
}

func (m *mockRepo) Create(_ context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forceCollisions > 0 || m.numbers[c.ClaimNumber] {
		if m.forceCollisions > 0 {
			m.forceCollisions--
		}
		return &pgconn.PgError{Code: "23505", ConstraintName: "claims_claim_number_key"}
	}
	c.ID = uuid.New()
	c.VersionID = 1
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	m.numbers[c.ClaimNumber] = true
	cp := *c
	m.claims[c.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, &billing.NotFoundError{Resource: "claim", ID: id.String()}
	}
	cp := *c
	if m.submitOnGet {
		m.submitOnGet = false
		c.Status = StatusSubmitted
	}
	return &cp, nil
}

func (m *mockRepo) UpdateVersioned(_ context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.claims[c.ID]
	if m.conflictNext {
		m.conflictNext = false
		return &billing.RetryableConflictError{Resource: "claim", ID: c.ID.String()}
	}
	if !ok || stored.VersionID != c.VersionID {
		return &billing.RetryableConflictError{Resource: "claim", ID: c.ID.String()}
	}
	c.VersionID++
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	m.claims[c.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return &billing.NotFoundError{Resource: "claim", ID: id.String()}
	}
	if c.Status != StatusDraft {
		return &billing.RetryableConflictError{Resource: "claim", ID: id.String()}
	}
	delete(m.claims, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Claim, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*Claim
	for _, c := range m.claims {
		if f.PatientID != nil && c.PatientID != *f.PatientID {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		cp := *c
		matched = append(matched, &cp)
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

type mockLedger struct {
	mu      sync.Mutex
	appends []ledger.AppendInput
}

func (m *mockLedger) Append(_ context.Context, in ledger.AppendInput) (*ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends = append(m.appends, in)
	return &ledger.Transaction{
		ID:        uuid.New(),
		PatientID: in.PatientID,
		Type:      in.Type,
		Amount:    in.Amount,
	}, nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []billing.Event
}

func (e *captureEmitter) Emit(_ context.Context, ev billing.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *captureEmitter) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}

func newTestService() (*Service, *mockRepo, *mockLedger, *captureEmitter) {
	repo := newMockRepo()
	lg := &mockLedger{}
	emitter := &captureEmitter{}
	svc := NewService(repo, lg, emitter, DefaultPolicy(), zerolog.Nop())
	svc.withTx = func(ctx context.Context, fn func(ctx context.Context) error) error {
		return fn(ctx)
	}
	return svc, repo, lg, emitter
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func validInput() CreateInput {
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return CreateInput{
		PatientID:         uuid.New(),
		ProviderID:        uuid.New(),
		InsurancePolicyID: uuid.New(),
		ClaimType:         ClaimProfessional,
		ServiceDateFrom:   from,
		ServiceDateTo:     from.AddDate(0, 0, 2),
		TotalCharge:       dec("500.00"),
		DiagnosisCodes:    []string{"E11.9"},
		ProcedureCodes:    []string{"99213"},
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing patient", func(in *CreateInput) { in.PatientID = uuid.Nil }},
		{"missing provider", func(in *CreateInput) { in.ProviderID = uuid.Nil }},
		{"missing policy", func(in *CreateInput) { in.InsurancePolicyID = uuid.Nil }},
		{"bad claim type", func(in *CreateInput) { in.ClaimType = "chiropractic" }},
		{"negative charge", func(in *CreateInput) { in.TotalCharge = dec("-1") }},
		{"missing dates", func(in *CreateInput) { in.ServiceDateFrom = time.Time{} }},
		{"inverted dates", func(in *CreateInput) {
			in.ServiceDateTo = in.ServiceDateFrom.AddDate(0, 0, -1)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.Create(ctx, in)
			var ve *billing.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestCreate_AssignsNumberAndDraft(t *testing.T) {
	svc, _, _, _ := newTestService()
	claim, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if claim.Status != StatusDraft {
		t.Errorf("status = %s, want draft", claim.Status)
	}
	if len(claim.ClaimNumber) == 0 || claim.ClaimNumber[:4] != "CLM-" {
		t.Errorf("claim_number = %q, want CLM- prefix", claim.ClaimNumber)
	}
	if claim.VersionID != 1 {
		t.Errorf("version_id = %d, want 1", claim.VersionID)
	}
}

func TestCreate_RetriesNumberCollision(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.forceCollisions = 2

	claim, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create after collisions: %v", err)
	}
	if claim.ClaimNumber == "" {
		t.Error("claim number not assigned")
	}
}

func TestCreate_GivesUpAfterMaxAttempts(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.forceCollisions = billing.MaxRefAttempts

	_, err := svc.Create(context.Background(), validInput())
	var ie *billing.IntegrityViolationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityViolationError, got %v", err)
	}
}

func TestSubmit(t *testing.T) {
	svc, _, lg, emitter := newTestService()
	ctx := context.Background()

	claim, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	submitted, err := svc.Submit(ctx, claim.ID, "electronic")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if submitted.Status != StatusSubmitted {
		t.Errorf("status = %s, want submitted", submitted.Status)
	}
	if submitted.SubmissionDate == nil {
		t.Error("submission_date not set")
	}
	if submitted.SubmissionMethod == nil || *submitted.SubmissionMethod != "electronic" {
		t.Error("submission_method not recorded")
	}
	if submitted.VersionID != 2 {
		t.Errorf("version_id = %d, want 2", submitted.VersionID)
	}

	if len(lg.appends) != 1 {
		t.Fatalf("ledger appends = %d, want 1", len(lg.appends))
	}
	charge := lg.appends[0]
	if charge.Type != ledger.TxCharge || !charge.Amount.Equal(dec("500.00")) {
		t.Errorf("charge = %s %s, want charge 500.00", charge.Type, charge.Amount)
	}
	if charge.ClaimID == nil || *charge.ClaimID != claim.ID {
		t.Error("charge not linked to claim")
	}

	got := emitter.types()
	if len(got) != 1 || got[0] != billing.EventClaimSubmitted {
		t.Fatalf("events = %v, want [claim.submitted]", got)
	}
}

func TestSubmit_NonDraft(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	claim, _ := svc.Create(ctx, validInput())
	if _, err := svc.Submit(ctx, claim.ID, ""); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err := svc.Submit(ctx, claim.ID, "")
	var te *billing.InvalidStateTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected InvalidStateTransitionError, got %v", err)
	}
}

func TestSubmit_StaleVersionConflict(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	claim, _ := svc.Create(ctx, validInput())
	repo.conflictNext = true

	_, err := svc.Submit(ctx, claim.ID, "")
	var ce *billing.RetryableConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected RetryableConflictError, got %v", err)
	}
}

func strptr(s string) *string { return &s }

func TestReceiveResponse_Accepted(t *testing.T) {
	svc, _, _, emitter := newTestService()
	ctx := context.Background()

	claim, _ := svc.Create(ctx, validInput())
	if _, err := svc.Submit(ctx, claim.ID, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	updated, err := svc.ReceiveResponse(ctx, claim.ID, StatusAccepted, nil, nil)
	if err != nil {
		t.Fatalf("ReceiveResponse: %v", err)
	}
	if updated.Status != StatusAccepted {
		t.Errorf("status = %s, want accepted", updated.Status)
	}
	if updated.ResponseDate == nil {
		t.Error("response_date not set")
	}
	got := emitter.types()
	if got[len(got)-1] != billing.EventClaimAccepted {
		t.Errorf("last event = %s, want claim.accepted", got[len(got)-1])
	}
}

func TestReceiveResponse_DenialRequiresReasonAndCode(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	claim, _ := svc.Create(ctx, validInput())
	if _, err := svc.Submit(ctx, claim.ID, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	for _, outcome := range []Status{StatusDenied, StatusRejected} {
		_, err := svc.ReceiveResponse(ctx, claim.ID, outcome, nil, nil)
		var ve *billing.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s without reason: expected ValidationError, got %v", outcome, err)
		}
	}

	updated, err := svc.ReceiveResponse(ctx, claim.ID, StatusDenied, strptr("not covered"), strptr("CO-50"))
	if err != nil {
		t.Fatalf("denial with reason: %v", err)
	}
	if updated.Status != StatusDenied || updated.DenialCode == nil || *updated.DenialCode != "CO-50" {
		t.Errorf("denial not recorded: %+v", updated)
	}
}

func TestReceiveResponse_InvalidOutcome(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.ReceiveResponse(context.Background(), uuid.New(), StatusPaid, nil, nil)
	var ve *billing.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestReceiveResponse_WrongState(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	claim, _ := svc.Create(ctx, validInput())
	_, err := svc.ReceiveResponse(ctx, claim.ID, StatusAccepted, nil, nil)
	var te *billing.InvalidStateTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected InvalidStateTransitionError on draft, got %v", err)
	}
}

func TestApplyPayment_PartialThenFull(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	claim, _ := svc.Create(ctx, validInput())
	if _, err := svc.Submit(ctx, claim.ID, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	partial, err := svc.ApplyPayment(ctx, claim.ID, dec("200.00"))
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if partial.Status != StatusPartiallyPaid {
		t.Errorf("status = %s, want partially_paid", partial.Status)
	}
	if !partial.OutstandingBalance().Equal(dec("300.00")) {
		t.Errorf("outstanding = %s, want 300.00", partial.OutstandingBalance())
	}

	full, err := svc.ApplyPayment(ctx, claim.ID, dec("300.00"))
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if full.Status != StatusPaid {
		t.Errorf("status = %s, want paid", full.Status)
	}
	if full.PaymentDate == nil {
		t.Error("payment_date not set")
	}
}

func TestApplyPayment_ExceedsOutstanding(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	claim, _ := svc.Create(ctx, validInput())
	if _, err := svc.Submit(ctx, claim.ID, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// validInput charges 500.00; applying 600.00 would drive the
	// outstanding balance negative.
	_, err := svc.ApplyPayment(ctx, claim.ID, dec("600.00"))
	var ve *billing.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for over-application, got %v", err)
	}

	stored, _ := repo.GetByID(ctx, claim.ID)
	if !stored.PaidAmount.IsZero() {
		t.Errorf("paid_amount = %s, want untouched 0", stored.PaidAmount)
	}
	if stored.Status != StatusSubmitted {
		t.Errorf("status = %s, want submitted", stored.Status)
	}

	// Exactly the outstanding balance is still accepted.
	full, err := svc.ApplyPayment(ctx, claim.ID, dec("500.00"))
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if full.Status != StatusPaid {
		t.Errorf("status = %s, want paid", full.Status)
	}
	if !full.OutstandingBalance().IsZero() {
		t.Errorf("outstanding = %s, want 0", full.OutstandingBalance())
	}
}

func TestApplyPayment_WrongState(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	claim, _ := svc.Create(ctx, validInput())
	_, err := svc.ApplyPayment(ctx, claim.ID, dec("10.00"))
	var te *billing.InvalidStateTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected InvalidStateTransitionError on draft claim, got %v", err)
	}
}

func TestVoid(t *testing.T) {
	svc, _, _, emitter := newTestService()
	ctx := context.Background()

	claim, _ := svc.Create(ctx, validInput())
	voided, err := svc.Void(ctx, claim.ID)
	if err != nil {
		t.Fatalf("Void: %v", err)
	}
	if voided.Status != StatusVoid {
		t.Errorf("status = %s, want void", voided.Status)
	}
	got := emitter.types()
	if got[len(got)-1] != billing.EventClaimVoided {
		t.Errorf("last event = %s, want claim.voided", got[len(got)-1])
	}

	_, err = svc.Void(ctx, claim.ID)
	var te *billing.InvalidStateTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected InvalidStateTransitionError voiding a void claim, got %v", err)
	}
}

func denyClaim(t *testing.T, svc *Service, ctx context.Context) *Claim {
	t.Helper()
	claim, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Submit(ctx, claim.ID, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	denied, err := svc.ReceiveResponse(ctx, claim.ID, StatusDenied, strptr("not covered"), strptr("CO-50"))
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	return denied
}

func TestAppeal_DeniedThenReadjudicated(t *testing.T) {
	svc, _, _, emitter := newTestService()
	ctx := context.Background()

	denied := denyClaim(t, svc, ctx)
	appealed, err := svc.Appeal(ctx, denied.ID)
	if err != nil {
		t.Fatalf("Appeal: %v", err)
	}
	if appealed.Status != StatusAppealed {
		t.Errorf("status = %s, want appealed", appealed.Status)
	}
	got := emitter.types()
	if got[len(got)-1] != billing.EventClaimAppealed {
		t.Errorf("last event = %s, want claim.appealed", got[len(got)-1])
	}

	// Appeal reopens adjudication.
	accepted, err := svc.ReceiveResponse(ctx, denied.ID, StatusAccepted, nil, nil)
	if err != nil {
		t.Fatalf("re-adjudication: %v", err)
	}
	if accepted.Status != StatusAccepted {
		t.Errorf("status = %s, want accepted", accepted.Status)
	}
}

func TestAppeal_RejectedGatedByPolicy(t *testing.T) {
	svc, _, _, _ := newTestService()
	svc.policy = Policy{RejectedAppealable: false}
	ctx := context.Background()

	claim, _ := svc.Create(ctx, validInput())
	if _, err := svc.Submit(ctx, claim.ID, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.ReceiveResponse(ctx, claim.ID, StatusRejected, strptr("bad npi"), strptr("A7")); err != nil {
		t.Fatalf("reject: %v", err)
	}

	_, err := svc.Appeal(ctx, claim.ID)
	var te *billing.InvalidStateTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected InvalidStateTransitionError under strict policy, got %v", err)
	}

	svc.policy = DefaultPolicy()
	if _, err := svc.Appeal(ctx, claim.ID); err != nil {
		t.Fatalf("appeal under default policy: %v", err)
	}
}

func TestAppeal_WindowClosed(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	denied := denyClaim(t, svc, ctx)

	svc.now = func() time.Time { return time.Now().UTC().AddDate(0, 0, 91) }
	_, err := svc.Appeal(ctx, denied.ID)
	var ve *billing.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError after window, got %v", err)
	}
}

func TestDelete_DraftOnly(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	draft, _ := svc.Create(ctx, validInput())
	if err := svc.Delete(ctx, draft.ID); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	if _, err := svc.Get(ctx, draft.ID); err == nil {
		t.Fatal("draft still present after delete")
	}

	submitted, _ := svc.Create(ctx, validInput())
	if _, err := svc.Submit(ctx, submitted.ID, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	err := svc.Delete(ctx, submitted.ID)
	var te *billing.InvalidStateTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected InvalidStateTransitionError deleting submitted claim, got %v", err)
	}
}

func TestDelete_SubmitRaceConflict(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	draft, _ := svc.Create(ctx, validInput())
	// The status check sees a draft, but a submit lands before the
	// delete statement runs. The guarded delete reports a conflict
	// rather than tripping over the charge transaction's foreign key.
	repo.submitOnGet = true

	err := svc.Delete(ctx, draft.ID)
	var rc *billing.RetryableConflictError
	if !errors.As(err, &rc) {
		t.Fatalf("expected RetryableConflictError, got %v", err)
	}
	if _, getErr := svc.Get(ctx, draft.ID); getErr != nil {
		t.Fatalf("claim should survive the failed delete: %v", getErr)
	}
}
