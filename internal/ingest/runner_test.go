package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/emersion/go-imap/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rako-fundraiser/donation-ingest/internal/ledger"
	"github.com/rako-fundraiser/donation-ingest/internal/model"
	"github.com/rako-fundraiser/donation-ingest/internal/state"
	"github.com/rako-fundraiser/donation-ingest/tests/testutil"
)

type fakeMailbox struct {
	order    []imap.UID
	messages map[imap.UID]*Message
	unseen   map[imap.UID]bool
	fetchErr map[imap.UID]error
	marked   map[imap.UID]bool
	closed   bool
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages: make(map[imap.UID]*Message),
		unseen:   make(map[imap.UID]bool),
		fetchErr: make(map[imap.UID]error),
		marked:   make(map[imap.UID]bool),
	}
}

func (f *fakeMailbox) add(uid imap.UID, unseen bool, subject, from, body string) {
	f.order = append(f.order, uid)
	f.unseen[uid] = unseen
	f.messages[uid] = &Message{
		UID:     uid,
		Subject: subject,
		From:    from,
		Raw: []byte(fmt.Sprintf(
			"From: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\n"+
				"Content-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
			from, subject, body,
		)),
	}
}

func (f *fakeMailbox) SearchUnseen(context.Context) ([]imap.UID, error) {
	var uids []imap.UID
	for _, uid := range f.order {
		if f.unseen[uid] && !f.marked[uid] {
			uids = append(uids, uid)
		}
	}
	return uids, nil
}

func (f *fakeMailbox) SearchAll(context.Context) ([]imap.UID, error) {
	return append([]imap.UID(nil), f.order...), nil
}

func (f *fakeMailbox) Fetch(_ context.Context, uid imap.UID) (*Message, error) {
	if err := f.fetchErr[uid]; err != nil {
		return nil, err
	}
	msg, ok := f.messages[uid]
	if !ok {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}
	return msg, nil
}

func (f *fakeMailbox) MarkSeen(_ context.Context, uid imap.UID) error {
	f.marked[uid] = true
	return nil
}

func (f *fakeMailbox) Close() error {
	f.closed = true
	return nil
}

const donationBody = `Sie haben eine Zahlung erhalten

Von: Max Mustermann
Betrag: 12,50 EUR
Transaktionscode: 9AB12345C6789012`

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func runOnce(
	t *testing.T, mb Mailbox, store ledger.Store, opts Options,
) *Summary {
	t.Helper()
	summary, err := NewRunner(mb, store, testLogger(), opts).Run(context.Background())
	require.NoError(t, err)
	return summary
}

func TestRunCreatesDonationAndMarksSeen(t *testing.T) {
	l := testutil.NewTestLedger(t)
	mb := newFakeMailbox()
	mb.add(1, true, "Zahlung erhalten", "service@paypal.de", donationBody)

	statePath := filepath.Join(t.TempDir(), "state.json")
	summary := runOnce(t, mb, l, Options{
		Limit: 50, MarkSeen: true, StatePath: statePath,
	})

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 0, summary.Duplicates)
	assert.True(t, mb.marked[1])

	total, err := l.Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12.50", total.StringFixed(2))

	seen := state.Load(statePath)
	assert.Contains(t, seen, "9AB12345C6789012")
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	l := testutil.NewTestLedger(t)
	statePath := filepath.Join(t.TempDir(), "state.json")
	opts := Options{Limit: 50, MarkSeen: false, StatePath: statePath}

	mb := newFakeMailbox()
	mb.add(1, true, "Zahlung erhalten", "service@paypal.de", donationBody)

	first := runOnce(t, mb, l, opts)
	assert.Equal(t, 1, first.Created)

	second := runOnce(t, mb, l, opts)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Duplicates)

	total, err := l.Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12.50", total.StringFixed(2))
}

func TestRunLedgerConstraintBacksUpLostState(t *testing.T) {
	l := testutil.NewTestLedger(t)
	mb := newFakeMailbox()
	mb.add(1, true, "Zahlung erhalten", "service@paypal.de", donationBody)

	// First run persists to a state file that then goes missing.
	runOnce(t, mb, l, Options{
		Limit: 50, StatePath: filepath.Join(t.TempDir(), "lost.json"),
	})

	statePath := filepath.Join(t.TempDir(), "state.json")
	second := runOnce(t, mb, l, Options{Limit: 50, StatePath: statePath})

	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Duplicates)

	// The duplicate discovered via the ledger is written back to state.
	seen := state.Load(statePath)
	assert.Contains(t, seen, "9AB12345C6789012")
}

func TestRunDryRunWritesNothing(t *testing.T) {
	l := testutil.NewTestLedger(t)
	mb := newFakeMailbox()
	mb.add(1, true, "Zahlung erhalten", "service@paypal.de", donationBody)

	statePath := filepath.Join(t.TempDir(), "state.json")
	summary := runOnce(t, mb, l, Options{
		DryRun: true, Limit: 50, MarkSeen: true, StatePath: statePath,
	})

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Created)
	assert.False(t, mb.marked[1])

	total, err := l.Total(context.Background())
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	_, err = os.Stat(statePath)
	assert.True(t, os.IsNotExist(err), "dry run must not write the state file")
}

func TestRunRejectsSentPaymentEmail(t *testing.T) {
	l := testutil.NewTestLedger(t)
	mb := newFakeMailbox()
	mb.add(1, true, "You sent a payment", "service@paypal.com",
		"You sent a payment of €12.50\nTransaction ID: 9AB12345C6789012")

	summary := runOnce(t, mb, l, Options{
		Limit: 50, MarkSeen: true, StatePath: filepath.Join(t.TempDir(), "s.json"),
	})

	assert.Equal(t, 1, summary.ParseFailed)
	assert.Equal(t, 0, summary.Created)
	assert.True(t, mb.marked[1], "rejected messages are flagged to stop reprocessing")
}

func TestRunSkipsNonProviderMail(t *testing.T) {
	l := testutil.NewTestLedger(t)
	mb := newFakeMailbox()
	mb.add(1, true, "Weekly newsletter", "news@example.com", "hello")

	summary := runOnce(t, mb, l, Options{
		Limit: 50, StatePath: filepath.Join(t.TempDir(), "s.json"),
	})

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.ParseFailed)
	assert.Equal(t, 0, summary.Created)
}

func TestRunCountsFetchFailuresSeparately(t *testing.T) {
	l := testutil.NewTestLedger(t)
	mb := newFakeMailbox()
	mb.add(1, true, "Zahlung erhalten", "service@paypal.de", donationBody)
	mb.add(2, true, "Zahlung erhalten", "service@paypal.de", donationBody)
	mb.fetchErr[1] = errors.New("connection reset")

	summary := runOnce(t, mb, l, Options{
		Limit: 50, StatePath: filepath.Join(t.TempDir(), "s.json"),
	})

	assert.Equal(t, 1, summary.FetchFailed)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 0, summary.ParseFailed)
}

func TestRunFallsBackToRecentWhenNoUnseen(t *testing.T) {
	l := testutil.NewTestLedger(t)
	mb := newFakeMailbox()
	// All messages already seen; only the most recent two fit the limit.
	mb.add(1, false, "old", "news@example.com", "old")
	mb.add(2, false, "Zahlung erhalten", "service@paypal.de", donationBody)
	mb.add(3, false, "Zahlung erhalten", "service@paypal.de",
		`Von: Erika Musterfrau
Betrag: 7,00 EUR
Transaktionscode: 8XY98765Z4321098`)

	summary := runOnce(t, mb, l, Options{
		Limit: 2, StatePath: filepath.Join(t.TempDir(), "s.json"),
	})

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Created)
}

func TestRunHonorsLimitOnUnseen(t *testing.T) {
	l := testutil.NewTestLedger(t)
	mb := newFakeMailbox()
	mb.add(1, true, "Zahlung erhalten", "service@paypal.de", donationBody)
	mb.add(2, true, "Zahlung erhalten", "service@paypal.de", donationBody)

	summary := runOnce(t, mb, l, Options{
		Limit: 1, StatePath: filepath.Join(t.TempDir(), "s.json"),
	})

	assert.Equal(t, 1, summary.Processed)
}

// failingLedger simulates a storage fault on donation commit.
type failingLedger struct{}

func (failingLedger) FindOrCreateDonor(_ context.Context, name string) (*model.Donor, error) {
	return &model.Donor{ID: "donor-1", Name: name}, nil
}

func (failingLedger) CreateDonation(
	context.Context, decimal.Decimal, *string, string,
) (*model.Donation, error) {
	return nil, errors.New("disk full")
}

func (failingLedger) Total(context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (failingLedger) LatestGoal(context.Context) (*model.Goal, error) {
	return nil, nil
}

func TestRunCommitFailureAdvancesNothing(t *testing.T) {
	mb := newFakeMailbox()
	mb.add(1, true, "Zahlung erhalten", "service@paypal.de", donationBody)

	statePath := filepath.Join(t.TempDir(), "state.json")
	summary := runOnce(t, mb, failingLedger{}, Options{
		Limit: 50, MarkSeen: true, StatePath: statePath,
	})

	assert.Equal(t, 1, summary.CommitFailed)
	assert.Equal(t, 0, summary.Created)
	assert.False(t, mb.marked[1], "flag must not advance without a commit")

	seen := state.Load(statePath)
	assert.NotContains(t, seen, "9AB12345C6789012")
}

func TestRunParsesDonorFromRealMIME(t *testing.T) {
	l := testutil.NewTestLedger(t)
	mb := newFakeMailbox()
	mb.order = append(mb.order, 7)
	mb.unseen[7] = true
	mb.messages[7] = &Message{
		UID:     7,
		Subject: "Zahlung erhalten",
		From:    "PayPal <service@paypal.de>",
		Raw: []byte("From: PayPal <service@paypal.de>\r\n" +
			"Subject: Zahlung erhalten\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=utf-8\r\n" +
			"\r\n" +
			"<div>Von: Max Mustermann</div>" +
			"<div>Betrag: 12,50&nbsp;&euro;</div>" +
			"<div>Transaktionscode: 9AB12345C6789012</div>\r\n"),
	}

	summary := runOnce(t, mb, l, Options{
		Limit: 50, StatePath: filepath.Join(t.TempDir(), "s.json"),
	})
	require.Equal(t, 1, summary.Created)

	donor, err := l.FindOrCreateDonor(context.Background(), "max mustermann")
	require.NoError(t, err)
	assert.Equal(t, "Max Mustermann", donor.Name)
}
