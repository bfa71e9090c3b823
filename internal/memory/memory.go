// Package memory implements spec §4.15 (ActionMemory): a SQLite-backed
// store of past (context, action, outcome) rows used to bias future
// action selection toward what has historically worked for similar
// failures. Grounded on
// original_source/rfsn_controller/action_outcome_memory.py, ported
// column-for-column and formula-for-formula.
package memory

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/dawsonblock/rfsnctl/internal/model"
)

// Limits configures housekeeping and query breadth.
type Limits struct {
	HalfLifeDays   int
	MaxAgeDays     int
	MaxRows        int
	TopK           int
	CandidateLimit int
	MinSimilarity  float64
}

// DefaultLimits mirrors action_outcome_memory.py's constructor defaults.
func DefaultLimits() Limits {
	return Limits{
		HalfLifeDays:   14,
		MaxAgeDays:     90,
		MaxRows:        20000,
		TopK:           6,
		CandidateLimit: 400,
		MinSimilarity:  0.25,
	}
}

// Store is the ActionMemory SQLite store.
type Store struct {
	db     *sql.DB
	limits Limits

	mu             sync.Mutex
	nextCreatedTs  int64
}

// Open creates (or reuses) the SQLite database at dbPath, runs schema
// migration and housekeeping, and seeds the monotone createdTs counter
// from max(existing)+1.
func Open(dbPath string, limits Limits) (*Store, error) {
	if limits.HalfLifeDays <= 0 {
		limits.HalfLifeDays = 14
	}
	if limits.MaxAgeDays <= 0 {
		limits.MaxAgeDays = 90
	}
	if limits.MaxRows < 1000 {
		limits.MaxRows = 20000
	}
	if limits.TopK <= 0 {
		limits.TopK = 6
	}
	if limits.CandidateLimit <= 0 {
		limits.CandidateLimit = 400
	}
	if limits.MinSimilarity <= 0 {
		limits.MinSimilarity = 0.25
	}

	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("memory: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("memory: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one handle

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("memory: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		return nil, fmt.Errorf("memory: set synchronous: %w", err)
	}

	s := &Store{db: db, limits: limits}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	if err := s.housekeeping(); err != nil {
		return nil, err
	}
	next, err := s.computeNextCreatedTs()
	if err != nil {
		return nil, err
	}
	s.nextCreatedTs = next
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS action_outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_hash TEXT NOT NULL UNIQUE,
	source_run_id TEXT NOT NULL,
	created_ts INTEGER NOT NULL,

	context_hash TEXT NOT NULL,
	context_json TEXT NOT NULL,
	failure_class TEXT NOT NULL,
	repo_type TEXT NOT NULL,
	language TEXT NOT NULL,
	env_hash TEXT NOT NULL,
	attempt_bucket INTEGER NOT NULL,
	failing_test_file TEXT,
	sig_prefix TEXT,
	stalled INTEGER NOT NULL,

	action_type TEXT NOT NULL,
	action_key TEXT NOT NULL,
	action_json TEXT NOT NULL,

	outcome TEXT NOT NULL,
	score REAL NOT NULL,
	confidence_weight REAL NOT NULL,

	exec_time_ms INTEGER NOT NULL,
	command_count INTEGER NOT NULL,
	diff_lines INTEGER NOT NULL,
	regressions INTEGER NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("memory: create table: %w", err)
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_action_outcomes_lookup
		ON action_outcomes (repo_type, failure_class, language, created_ts);`); err != nil {
		return fmt.Errorf("memory: create lookup index: %w", err)
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_action_outcomes_action
		ON action_outcomes (action_type, action_key);`); err != nil {
		return fmt.Errorf("memory: create action index: %w", err)
	}
	if _, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS ingest_offsets (
	pack_id TEXT PRIMARY KEY,
	base_ts INTEGER NOT NULL
);
`); err != nil {
		return fmt.Errorf("memory: create ingest_offsets table: %w", err)
	}
	return nil
}

// housekeeping drops rows older than maxAgeDays (relative to the newest
// row) and caps the table at maxRows, oldest-first.
func (s *Store) housekeeping() error {
	var newest sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(created_ts) FROM action_outcomes").Scan(&newest); err != nil {
		return fmt.Errorf("memory: housekeeping query: %w", err)
	}
	if !newest.Valid {
		return nil
	}
	cutoff := newest.Int64 - int64(s.limits.MaxAgeDays)
	if _, err := s.db.Exec("DELETE FROM action_outcomes WHERE created_ts < ?", cutoff); err != nil {
		return fmt.Errorf("memory: housekeeping age-cutoff delete: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM action_outcomes WHERE id NOT IN (
		SELECT id FROM action_outcomes ORDER BY created_ts DESC, id DESC LIMIT ?
	)`, s.limits.MaxRows); err != nil {
		return fmt.Errorf("memory: housekeeping row-cap delete: %w", err)
	}
	return nil
}

func (s *Store) computeNextCreatedTs() (int64, error) {
	var newest sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(created_ts) FROM action_outcomes").Scan(&newest); err != nil {
		return 0, fmt.Errorf("memory: compute next created_ts: %w", err)
	}
	if !newest.Valid {
		return 1, nil
	}
	return newest.Int64 + 1, nil
}

// RecordInput bundles everything Record needs. CreatedTs is optional
// (zero means "assign the next monotone tick"); evidence-pack ingest
// passes an explicit value so offsets replay idempotently.
type RecordInput struct {
	SourceRunID      string
	Context          model.ContextSignature
	ActionType       model.ActionType
	ActionKey        string
	ActionJSON       string
	Outcome          model.Outcome
	Score            float64
	ConfidenceWeight float64
	ExecTimeMs       int64
	CommandCount     int
	DiffLines        int
	Regressions      int
	CreatedTs        int64 // 0 => auto-assign
}

// Record inserts one action outcome row. Duplicate event hashes (the
// same createdTs+context+action+run replayed) are silently ignored,
// matching the original's IntegrityError-swallow idempotency contract.
func (s *Store) Record(in RecordInput) error {
	s.mu.Lock()
	createdTs := in.CreatedTs
	if createdTs == 0 {
		createdTs = s.nextCreatedTs
		s.nextCreatedTs++
	} else if createdTs >= s.nextCreatedTs {
		s.nextCreatedTs = createdTs + 1
	}
	s.mu.Unlock()

	contextHash, err := in.Context.Hash()
	if err != nil {
		return fmt.Errorf("memory: hash context: %w", err)
	}
	envHash, err := envHash(in.Context.EnvFingerprint)
	if err != nil {
		return fmt.Errorf("memory: hash env: %w", err)
	}
	eventHash, err := model.EventHash(createdTs, contextHash, in.ActionType, in.ActionKey, in.SourceRunID)
	if err != nil {
		return fmt.Errorf("memory: compute event hash: %w", err)
	}
	contextJSON, err := contextCanonicalJSON(in.Context)
	if err != nil {
		return fmt.Errorf("memory: marshal context: %w", err)
	}

	_, err = s.db.Exec(`
INSERT OR IGNORE INTO action_outcomes (
	event_hash, source_run_id, created_ts,
	context_hash, context_json, failure_class, repo_type, language, env_hash,
	attempt_bucket, failing_test_file, sig_prefix, stalled,
	action_type, action_key, action_json,
	outcome, score, confidence_weight,
	exec_time_ms, command_count, diff_lines, regressions
) VALUES (?,?,?, ?,?,?,?,?,?, ?,?,?,?, ?,?,?, ?,?,?, ?,?,?,?)
`,
		eventHash, in.SourceRunID, createdTs,
		contextHash, contextJSON, in.Context.FailureClass, in.Context.RepoType, in.Context.Language, envHash,
		in.Context.AttemptBucket, nullableString(in.Context.FailingTestFile), nullableString(in.Context.SigPrefix), boolToInt(in.Context.Stalled),
		string(in.ActionType), in.ActionKey, in.ActionJSON,
		string(in.Outcome), in.Score, in.ConfidenceWeight,
		in.ExecTimeMs, in.CommandCount, in.DiffLines, in.Regressions,
	)
	if err != nil {
		return fmt.Errorf("memory: insert action outcome: %w", err)
	}
	return nil
}

// ActionPrior is one aggregated-by-actionKey row returned by QueryPriors.
type ActionPrior struct {
	ActionType  model.ActionType
	ActionKey   string
	ActionJSON  string
	Weight      float64
	SuccessRate float64
	MeanScore   float64
	N           int
}

type candidateRow struct {
	actionType      string
	actionKey       string
	actionJSON      string
	outcome         string
	score           float64
	confidenceWeight float64
	createdTs       int64
	envHash         string
	attemptBucket   int
	failingTestFile sql.NullString
	sigPrefix       sql.NullString
	stalled         bool
}

// QueryPriors ports query_action_priors verbatim: candidates are fetched
// scoped to (repoType, failureClass, language), capped at
// CandidateLimit, most-recent-first; each candidate's similarity to ctx
// is the weighted sum of five boolean matches (env/attemptBucket/
// failingTestFile/sigPrefix/stalled); candidates below MinSimilarity are
// dropped; survivors are weighted by confidenceWeight*similarity*decay
// and aggregated per actionKey into (weight, successRate, meanScore, n);
// the result is sorted by (-weight, -successRate, -meanScore, actionKey)
// and capped at TopK.
func (s *Store) QueryPriors(ctx model.ContextSignature, nowTs int64) ([]ActionPrior, error) {
	rows, err := s.db.Query(`
SELECT action_type, action_key, action_json, outcome, score, confidence_weight,
       created_ts, env_hash, attempt_bucket, failing_test_file, sig_prefix, stalled
FROM action_outcomes
WHERE repo_type = ? AND failure_class = ? AND language = ?
ORDER BY created_ts DESC, id DESC
LIMIT ?`, ctx.RepoType, ctx.FailureClass, ctx.Language, s.limits.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("memory: query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []candidateRow
	for rows.Next() {
		var c candidateRow
		if err := rows.Scan(&c.actionType, &c.actionKey, &c.actionJSON, &c.outcome, &c.score, &c.confidenceWeight,
			&c.createdTs, &c.envHash, &c.attemptBucket, &c.failingTestFile, &c.sigPrefix, &c.stalled); err != nil {
			return nil, fmt.Errorf("memory: scan candidate row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if nowTs == 0 {
		for _, c := range candidates {
			if c.createdTs > nowTs {
				nowTs = c.createdTs
			}
		}
	}

	ctxEnvHash, err := envHash(ctx.EnvFingerprint)
	if err != nil {
		return nil, fmt.Errorf("memory: hash query env: %w", err)
	}

	type agg struct {
		actionType string
		actionKey  string
		actionJSON string
		wSum       float64
		succSum    float64
		scoreSum   float64
		n          int
	}
	aggs := make(map[string]*agg)

	lam := math.Log(2.0) / float64(s.limits.HalfLifeDays)
	for _, c := range candidates {
		sim := similarity(c, ctx, ctxEnvHash)
		if sim < s.limits.MinSimilarity {
			continue
		}
		ageUnits := math.Max(0.0, float64(nowTs-c.createdTs))
		decay := math.Exp(-lam * ageUnits)
		w := c.confidenceWeight * sim * decay

		a, ok := aggs[c.actionKey]
		if !ok {
			a = &agg{actionType: c.actionType, actionKey: c.actionKey, actionJSON: c.actionJSON}
			aggs[c.actionKey] = a
		}
		a.wSum += w
		a.succSum += w * outcomeValue(c.outcome)
		a.scoreSum += w * c.score
		a.n++
	}

	var priors []ActionPrior
	for _, a := range aggs {
		if a.wSum <= 0 {
			continue
		}
		priors = append(priors, ActionPrior{
			ActionType:  model.ActionType(a.actionType),
			ActionKey:   a.actionKey,
			ActionJSON:  a.actionJSON,
			Weight:      a.wSum,
			SuccessRate: a.succSum / a.wSum,
			MeanScore:   a.scoreSum / a.wSum,
			N:           a.n,
		})
	}

	sort.Slice(priors, func(i, j int) bool {
		pi, pj := priors[i], priors[j]
		if pi.Weight != pj.Weight {
			return pi.Weight > pj.Weight
		}
		if pi.SuccessRate != pj.SuccessRate {
			return pi.SuccessRate > pj.SuccessRate
		}
		if pi.MeanScore != pj.MeanScore {
			return pi.MeanScore > pj.MeanScore
		}
		return pi.ActionKey < pj.ActionKey
	})

	if len(priors) > s.limits.TopK {
		priors = priors[:s.limits.TopK]
	}
	return priors, nil
}

func similarity(c candidateRow, ctx model.ContextSignature, ctxEnvHash string) float64 {
	s := 0.0
	if c.envHash == ctxEnvHash {
		s += 0.45
	}
	if c.attemptBucket == ctx.AttemptBucket {
		s += 0.20
	}
	if c.failingTestFile.Valid && c.failingTestFile.String != "" && c.failingTestFile.String == ctx.FailingTestFile {
		s += 0.15
	}
	if c.sigPrefix.Valid && c.sigPrefix.String != "" && ctx.SigPrefix != "" && c.sigPrefix.String == ctx.SigPrefix {
		s += 0.10
	}
	if c.stalled == ctx.Stalled {
		s += 0.10
	}
	return s
}

func outcomeValue(outcome string) float64 {
	switch outcome {
	case string(model.OutcomeSuccess):
		return 1.0
	case string(model.OutcomePartial):
		return 0.5
	default:
		return 0.0
	}
}

// ScoreAction ports score_action: 100*outcomeValue - commandCount*1 -
// diffLines*0.02 - regressions*50, with all penalty terms clamped at 0.
func ScoreAction(outcome model.Outcome, execTimeMs int64, commandCount, diffLines, regressions int) float64 {
	base := 100.0 * outcome.Value()
	base -= float64(maxInt(0, commandCount)) * 1.0
	base -= float64(maxInt(0, diffLines)) * 0.02
	base -= float64(maxInt(0, regressions)) * 50.0
	return base
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// envHash hashes just the environment-fingerprint facet of a context
// signature, matching the original's separate env_hash column (kept
// apart from context_hash so rows with identical env but different
// failure_class/attempt_bucket can still be compared for similarity).
func envHash(envFingerprint string) (string, error) {
	sum := sha256.Sum256([]byte(envFingerprint))
	return fmt.Sprintf("%x", sum), nil
}

// contextCanonicalJSON returns the sorted-key JSON rendering of ctx
// stored verbatim in the context_json column for offline inspection.
func contextCanonicalJSON(ctx model.ContextSignature) (string, error) {
	b, err := json.Marshal(ctx)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return "", err
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
