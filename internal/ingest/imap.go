package ingest

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPConfig holds the connection settings for one mailbox session.
type IMAPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
	Folder   string
}

// IMAPMailbox implements Mailbox on a single logged-in go-imap session.
// One session serves an entire ingestion run; Close logs out.
type IMAPMailbox struct {
	client *imapclient.Client
	folder string
}

// DialIMAP connects to the IMAP server, authenticates, and selects the
// configured folder. A connect or login failure is returned as an
// *AuthError, which aborts the run before any message is touched.
func DialIMAP(_ context.Context, cfg IMAPConfig) (*IMAPMailbox, error) {
	addr := cfg.Host + ":" + cfg.Port

	var client *imapclient.Client
	var err error

	if cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &AuthError{
			Mailbox: addr,
			Err:     fmt.Errorf("connecting: %w", err),
		}
	}

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &AuthError{
			Mailbox: addr,
			Err:     fmt.Errorf("login as %s: %w", cfg.Username, err),
		}
	}

	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("selecting folder %q: %w", folder, err)
	}

	return &IMAPMailbox{client: client, folder: folder}, nil
}

// SearchUnseen returns the UIDs of messages without the \Seen flag.
func (m *IMAPMailbox) SearchUnseen(ctx context.Context) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	return m.search(ctx, criteria)
}

// SearchAll returns every UID in the selected folder.
func (m *IMAPMailbox) SearchAll(ctx context.Context) ([]imap.UID, error) {
	return m.search(ctx, &imap.SearchCriteria{})
}

func (m *IMAPMailbox) search(
	_ context.Context, criteria *imap.SearchCriteria,
) ([]imap.UID, error) {
	searchData, err := m.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", m.folder, err)
	}
	return searchData.AllUIDs(), nil
}

// Fetch retrieves one full message. The body section is fetched with
// Peek so the fetch itself never sets the seen flag; flag advancement
// stays an explicit, post-commit step.
func (m *IMAPMailbox) Fetch(
	_ context.Context, uid imap.UID,
) (*Message, error) {
	uidSet := imap.UIDSetNum(uid)

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := m.client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message UID %d: %w", uid, err)
	}

	out := &Message{
		UID: uid,
		Raw: buf.FindBodySection(bodySection),
	}

	if buf.Envelope != nil {
		out.Subject = buf.Envelope.Subject
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				out.From = fmt.Sprintf("%s <%s>", from.Name, from.Addr())
			} else {
				out.From = from.Addr()
			}
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return out, fmt.Errorf("closing fetch for UID %d: %w", uid, err)
	}

	return out, nil
}

// MarkSeen adds the \Seen flag to one message.
func (m *IMAPMailbox) MarkSeen(_ context.Context, uid imap.UID) error {
	uidSet := imap.UIDSetNum(uid)

	storeCmd := m.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("marking UID %d seen: %w", uid, err)
	}
	return nil
}

// Close logs out and releases the session.
func (m *IMAPMailbox) Close() error {
	return m.client.Logout().Wait()
}
