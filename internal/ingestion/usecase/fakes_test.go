package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"talent-inbox/internal/ingestion/domain"
	"talent-inbox/internal/ingestion/repository"
	"talent-inbox/internal/queue"
	"talent-inbox/internal/triage"
	"talent-inbox/pkg/ai"
	"talent-inbox/pkg/events"
	"talent-inbox/pkg/extractor"

	"github.com/glebarez/sqlite"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeMailbox struct {
	mu          sync.Mutex
	messages    map[string]*domain.InboundEmail
	attachments map[string][]byte
	order       []string
	cursor      uint64
	// expired makes ListChanges reject any cursor.
	expired bool
	openErr error
	kind    domain.ProviderKind

	refreshToken *oauth2.Token
	refreshErr   error
	refreshCalls int

	listChangesCalls int
	listUnreadCalls  int
	getCalls         map[string]int
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages:    map[string]*domain.InboundEmail{},
		attachments: map[string][]byte{},
		getCalls:    map[string]int{},
	}
}

// deliver appends a message and advances the mailbox cursor.
func (m *fakeMailbox) deliver(email *domain.InboundEmail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[email.ID] = email
	m.order = append(m.order, email.ID)
	m.cursor += 10
}

func (m *fakeMailbox) Kind() domain.ProviderKind {
	if m.kind != "" {
		return m.kind
	}
	return domain.ProviderGmail
}

func (m *fakeMailbox) Open(_ context.Context, _ *domain.MailboxConnection, _ domain.TokenUpdateFunc) (domain.MailSession, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &fakeSession{box: m}, nil
}

func (m *fakeMailbox) RefreshToken(context.Context, *domain.MailboxConnection) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshCalls++
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	if m.refreshToken == nil {
		return nil, errors.New("no token configured")
	}
	return m.refreshToken, nil
}

type fakeSession struct {
	box *fakeMailbox
}

func (s *fakeSession) ListChanges(_ context.Context, cursor uint64) (*domain.ChangeSet, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	s.box.listChangesCalls++
	if s.box.expired {
		return nil, domain.ErrInvalidCursor
	}
	// Every message is reported since the fake keeps no per-message history; dedup handles replays.
	return &domain.ChangeSet{MessageIDs: append([]string(nil), s.box.order...), Cursor: s.box.cursor}, nil
}

func (s *fakeSession) ListUnread(_ context.Context, limit int) (*domain.ChangeSet, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	s.box.listUnreadCalls++
	ids := append([]string(nil), s.box.order...)
	if len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	return &domain.ChangeSet{MessageIDs: ids, Cursor: s.box.cursor}, nil
}

func (s *fakeSession) GetMessage(_ context.Context, id string) (*domain.InboundEmail, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	s.box.getCalls[id]++
	email, ok := s.box.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return email, nil
}

func (s *fakeSession) GetAttachment(_ context.Context, messageID, attachmentID string) ([]byte, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	data, ok := s.box.attachments[messageID+"/"+attachmentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

func (s *fakeSession) Close() error { return nil }

type fakeOracle struct {
	mu             sync.Mutex
	classification *ai.Classification
	classifyErr    error
	resume         *ai.ParsedResume
	parseErr       error
	score          *ai.ScoreResult
	// onClassify runs inside Classify before the context is checked.
	onClassify func()

	classifyCalls int
	parseCalls    int
	parsedFiles   []string
	scoreCalls    int
	scoredRoles   []string
}

func (o *fakeOracle) Classify(ctx context.Context, _ ai.EmailInput) (*ai.Classification, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.classifyCalls++
	if o.onClassify != nil {
		o.onClassify()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.classifyErr != nil {
		return nil, o.classifyErr
	}
	c := *o.classification
	return &c, nil
}

func (o *fakeOracle) ParseResume(_ context.Context, _, filename string) (*ai.ParsedResume, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.parseCalls++
	o.parsedFiles = append(o.parsedFiles, filename)
	if o.parseErr != nil {
		return nil, o.parseErr
	}
	r := *o.resume
	return &r, nil
}

func (o *fakeOracle) Score(_ context.Context, _ *ai.ParsedResume, role ai.RoleRequirements) (*ai.ScoreResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scoreCalls++
	o.scoredRoles = append(o.scoredRoles, role.Title)
	s := *o.score
	return &s, nil
}

type fakeExtractor struct {
	confidence int
	err        error
}

func (e *fakeExtractor) Extract(_ context.Context, data []byte, _, _ string) (*extractor.Extraction, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &extractor.Extraction{Text: string(data), Confidence: e.confidence, Method: extractor.MethodPlainText}, nil
}

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []enqueued
}

type enqueued struct {
	kind    string
	payload interface{}
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, kind string, payload interface{}, _ ...queue.Option) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, enqueued{kind: kind, payload: payload})
	return "job-" + kind, nil
}

func (r *recordingEnqueuer) ofKind(kind string) []enqueued {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []enqueued
	for _, j := range r.jobs {
		if j.kind == kind {
			out = append(out, j)
		}
	}
	return out
}

type harness struct {
	db          *gorm.DB
	connections repository.ConnectionRepository
	messages    repository.MessageRepository
	candidates  repository.CandidateRepository
	scores      repository.ScoreRepository
	roles       repository.RoleRepository

	mailbox   *fakeMailbox
	oracle    *fakeOracle
	extractor *fakeExtractor
	queue     *recordingEnqueuer
	events    *events.Recorder
	opts      IngestOptions

	conn *domain.MailboxConnection
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ingest.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	h := &harness{
		db:          db,
		connections: repository.NewConnectionRepository(db, nil),
		messages:    repository.NewMessageRepository(db),
		candidates:  repository.NewCandidateRepository(db),
		scores:      repository.NewScoreRepository(db),
		roles:       repository.NewRoleRepository(db),
		mailbox:     newFakeMailbox(),
		oracle: &fakeOracle{
			classification: &ai.Classification{IsJobApplication: true, Confidence: 95, Reasoning: "applies for a job"},
			resume:         &ai.ParsedResume{Name: "John Smith", Email: "john.smith@gmail.com", Skills: []string{"go", "sql"}, ExperienceYears: 6},
			score:          &ai.ScoreResult{OverallScore: 82, SkillsScore: 85, ExperienceScore: 80, EducationScore: 70, Recommendation: ai.RecommendYes},
		},
		extractor: &fakeExtractor{confidence: 92},
		queue:     &recordingEnqueuer{},
		events:    &events.Recorder{},
	}

	h.conn = &domain.MailboxConnection{
		TenantID:      "tenant-1",
		Provider:      domain.ProviderGmail,
		EmailAddress:  "jobs@acme.com",
		CompanyDomain: "acme.com",
		AccessToken:   "access",
		RefreshToken:  "refresh",
		IsActive:      true,
		AutoImport:    true,
	}
	if err := h.connections.Create(h.conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return h
}

func (h *harness) ingest() IngestUsecase {
	return NewIngestUsecase(h.messages, h.candidates,
		triage.NewEngine(triage.Settings{Enabled: true, AutoClassifyEnabled: true}),
		h.oracle, h.extractor, h.queue, h.events, h.opts, nil)
}

func (h *harness) sync() SyncUsecase {
	return NewSyncUsecase(h.connections, NewProviders(h.mailbox), h.ingest(), SyncOptions{FullScanLimit: 50}, nil)
}

func (h *harness) reload(t *testing.T) *domain.MailboxConnection {
	t.Helper()
	conn, err := h.connections.FindByID(h.conn.ID)
	if err != nil || conn == nil {
		t.Fatalf("reload connection: %v", err)
	}
	return conn
}

func (h *harness) record(t *testing.T, providerID string) *domain.InboundMessageRecord {
	t.Helper()
	rec, err := h.messages.FindByProviderID(h.conn.ID, providerID)
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if rec == nil {
		t.Fatalf("no record for %s", providerID)
	}
	return rec
}

func (h *harness) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := h.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func resume(name string) domain.Attachment {
	return domain.Attachment{ID: "att-1", Filename: name, MimeType: "application/pdf", Size: 40_000}
}

// applicationEmail triggers the subject-phrase auto-classify rule.
func applicationEmail(id, from, attachment string) *domain.InboundEmail {
	return &domain.InboundEmail{
		ID:          id,
		Subject:     "Application for Backend Engineer",
		FromAddress: from,
		FromName:    "John Smith",
		TextBody:    "Hello, please see the attached document.",
		ReceivedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Headers:     map[string]string{},
		Attachments: []domain.Attachment{resume(attachment)},
	}
}

// ambiguousEmail has no rule match and goes to the oracle.
func ambiguousEmail(id, from string) *domain.InboundEmail {
	return &domain.InboundEmail{
		ID:          id,
		Subject:     "Hi",
		FromAddress: from,
		FromName:    "Maria Lopez",
		TextBody:    "Here are the documents we talked about.",
		ReceivedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Headers:     map[string]string{},
		Attachments: []domain.Attachment{resume("document.pdf")},
	}
}

func (h *harness) deliver(email *domain.InboundEmail) {
	h.mailbox.deliver(email)
	for _, a := range email.Attachments {
		h.mailbox.attachments[email.ID+"/"+a.ID] = []byte("John Smith\nSenior backend engineer with six years of Go and PostgreSQL experience.")
	}
}
