package ml

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"golang.org/x/sync/errgroup"

	"github.com/TryMightyAI/rampart/pkg/scan"
)

// Classifier errors.
var (
	ErrClassifierNotReady = errors.New("classifier has no seeds loaded")
	ErrEmptyEmbedding     = errors.New("empty embedding")
)

// Classifier thresholds and defaults. Thresholds are calibrated against
// the builtin seed pack; override them via ClassifierConfig when running
// custom seeds.
const (
	DefaultAttackThreshold         = 0.65
	DefaultDisambiguationThreshold = 0.55
	DefaultNeighbors               = 5
)

// ClassifierConfig tunes the binary-first engine.
type ClassifierConfig struct {
	// AttackThreshold is the minimum binary-head confidence to treat the
	// input as an attack at all. Below it the family head never runs.
	AttackThreshold float64
	// DisambiguationThreshold is the minimum family-head confidence to
	// commit to a specific family. Below it the prediction is flagged
	// uncertain with FamilyUnknown.
	DisambiguationThreshold float64
	// Neighbors is the k used for similarity voting.
	Neighbors int
}

func (c ClassifierConfig) withDefaults() ClassifierConfig {
	if c.AttackThreshold <= 0 {
		c.AttackThreshold = DefaultAttackThreshold
	}
	if c.DisambiguationThreshold <= 0 {
		c.DisambiguationThreshold = DefaultDisambiguationThreshold
	}
	if c.Neighbors <= 0 {
		c.Neighbors = DefaultNeighbors
	}
	return c
}

// HealthStats is a snapshot of classifier activity for health reporting.
type HealthStats struct {
	Ready           bool  `json:"ready"`
	AttackSeeds     int   `json:"attack_seeds"`
	BenignSeeds     int   `json:"benign_seeds"`
	Classifications int64 `json:"classifications"`
	AttackVerdicts  int64 `json:"attack_verdicts"`
	Uncertain       int64 `json:"uncertain"`
}

// BinaryFirstEngine classifies embeddings by similarity voting against
// labeled seeds, cheapest decision first: a binary attack/benign head
// short-circuits before the family head, and the family head
// short-circuits before the subfamily head. Classification is pure with
// respect to the loaded seeds, so identical vectors always produce
// identical predictions.
type BinaryFirstEngine struct {
	attack *chromem.Collection
	benign *chromem.Collection
	cfg    ClassifierConfig

	attackCount int
	benignCount int

	classifications atomic.Int64
	attackVerdicts  atomic.Int64
	uncertainCount  atomic.Int64
}

// NewBinaryFirstEngine embeds the given seeds with provider and indexes
// them into in-memory vector collections. Seeds whose text fails to embed
// abort construction: a partially seeded classifier would silently skew
// every verdict.
func NewBinaryFirstEngine(ctx context.Context, seeds []ThreatSeed, provider EmbeddingProvider, cfg ClassifierConfig) (*BinaryFirstEngine, error) {
	if len(seeds) == 0 {
		return nil, ErrClassifierNotReady
	}

	db := chromem.NewDB()
	embedFn := chromem.EmbeddingFunc(provider.Embed)

	attackCol, err := db.CreateCollection("threat-seeds", nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("failed to create attack collection: %w", err)
	}
	benignCol, err := db.CreateCollection("benign-seeds", nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("failed to create benign collection: %w", err)
	}

	e := &BinaryFirstEngine{
		attack: attackCol,
		benign: benignCol,
		cfg:    cfg.withDefaults(),
	}

	embeddings, err := embedSeeds(ctx, provider, seeds)
	if err != nil {
		return nil, fmt.Errorf("failed to embed seeds: %w", err)
	}

	var attackDocs, benignDocs []chromem.Document
	for i, s := range seeds {
		if len(embeddings[i]) == 0 {
			return nil, fmt.Errorf("seed %q: %w", s.ID, ErrEmptyEmbedding)
		}
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		doc := chromem.Document{
			ID:        s.ID.String(),
			Content:   s.Text,
			Embedding: embeddings[i],
			Metadata: map[string]string{
				"family":    string(s.Family),
				"subfamily": s.Subfamily,
				"severity":  s.Severity.String(),
				"language":  s.Language,
			},
		}
		if s.Attack {
			attackDocs = append(attackDocs, doc)
		} else {
			benignDocs = append(benignDocs, doc)
		}
	}
	if len(attackDocs) == 0 || len(benignDocs) == 0 {
		return nil, fmt.Errorf("seed pack needs both attack and benign seeds: %w", ErrClassifierNotReady)
	}

	if err := attackCol.AddDocuments(ctx, attackDocs, 4); err != nil {
		return nil, fmt.Errorf("failed to index attack seeds: %w", err)
	}
	if err := benignCol.AddDocuments(ctx, benignDocs, 4); err != nil {
		return nil, fmt.Errorf("failed to index benign seeds: %w", err)
	}

	e.attackCount = len(attackDocs)
	e.benignCount = len(benignDocs)
	log.Printf("[ml] classifier ready (%d attack seeds, %d benign seeds, k=%d)",
		e.attackCount, e.benignCount, e.cfg.Neighbors)
	return e, nil
}

// seedBatchSize bounds one embedding batch during startup seeding.
const seedBatchSize = 32

// embedSeeds embeds all seed texts in parallel batches. Order is
// preserved: embeddings[i] belongs to seeds[i].
func embedSeeds(ctx context.Context, provider EmbeddingProvider, seeds []ThreatSeed) ([][]float32, error) {
	embeddings := make([][]float32, len(seeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(seeds); start += seedBatchSize {
		end := start + seedBatchSize
		if end > len(seeds) {
			end = len(seeds)
		}
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = seeds[i].Text
			}
			batch, err := provider.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(batch) != end-start {
				return fmt.Errorf("batch size mismatch: want %d, got %d", end-start, len(batch))
			}
			copy(embeddings[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// Classify runs the binary-first decision over an embedding.
func (e *BinaryFirstEngine) Classify(ctx context.Context, embedding []float32) (scan.L2Prediction, error) {
	start := time.Now()

	if len(embedding) == 0 {
		return scan.L2Prediction{}, ErrEmptyEmbedding
	}
	if err := ctx.Err(); err != nil {
		return scan.L2Prediction{}, err
	}
	e.classifications.Add(1)

	attackNeighbors, err := e.query(ctx, e.attack, embedding, e.attackCount)
	if err != nil {
		return scan.L2Prediction{}, fmt.Errorf("attack head query failed: %w", err)
	}
	benignNeighbors, err := e.query(ctx, e.benign, embedding, e.benignCount)
	if err != nil {
		return scan.L2Prediction{}, fmt.Errorf("benign head query failed: %w", err)
	}

	pred := scan.L2Prediction{
		Confidence: binaryConfidence(attackNeighbors, benignNeighbors),
	}

	// Binary head: most traffic is benign and stops here.
	if pred.Confidence < e.cfg.AttackThreshold {
		pred.Elapsed = time.Since(start)
		return pred, nil
	}
	pred.Attack = true
	e.attackVerdicts.Add(1)

	// Family head: weighted vote over the attack neighbors.
	family, familyConf := voteMetadata(attackNeighbors, "family", "")
	pred.FamilyConfidence = familyConf
	if familyConf < e.cfg.DisambiguationThreshold {
		// Confidently attack-like but not attributable to one family.
		// High severity so the policy fail-safe path sees it.
		pred.Uncertain = true
		pred.Family = scan.FamilyUnknown
		pred.Severity = scan.SeverityHigh
		e.uncertainCount.Add(1)
		pred.Elapsed = time.Since(start)
		return pred, nil
	}
	pred.Family = scan.NormalizeFamily(family)

	// Subfamily head: vote only among the winning family's neighbors.
	subfamily, subConf := voteMetadata(attackNeighbors, "subfamily", family)
	pred.Subfamily = subfamily
	pred.SubfamilyConfidence = subConf

	pred.Severity = maxNeighborSeverity(attackNeighbors, family)
	pred.Elapsed = time.Since(start)
	return pred, nil
}

// query runs a kNN lookup, clamping k to the collection size.
func (e *BinaryFirstEngine) query(ctx context.Context, col *chromem.Collection, embedding []float32, size int) ([]chromem.Result, error) {
	k := e.cfg.Neighbors
	if k > size {
		k = size
	}
	if k == 0 {
		return nil, ErrClassifierNotReady
	}
	return col.QueryEmbedding(ctx, embedding, k, nil, nil)
}

// binaryConfidence maps the margin between the attack and benign
// neighborhoods to [0,1]. Equal similarity gives 0.5; confidence grows
// with how much closer the input sits to attack seeds than benign ones.
func binaryConfidence(attack, benign []chromem.Result) float64 {
	margin := meanSimilarity(attack) - meanSimilarity(benign)
	conf := 0.5 + margin/2
	switch {
	case conf < 0:
		return 0
	case conf > 1:
		return 1
	default:
		return conf
	}
}

func meanSimilarity(results []chromem.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += float64(r.Similarity)
	}
	return sum / float64(len(results))
}

// voteMetadata runs a similarity-weighted vote over one metadata key.
// When familyFilter is non-empty only neighbors of that family vote.
// Returns the winning value and its share of the total weight. Ties break
// lexicographically so the vote is deterministic.
func voteMetadata(results []chromem.Result, key, familyFilter string) (string, float64) {
	weights := make(map[string]float64)
	var total float64
	for _, r := range results {
		if familyFilter != "" && r.Metadata["family"] != familyFilter {
			continue
		}
		value := r.Metadata[key]
		if value == "" {
			continue
		}
		w := (float64(r.Similarity) + 1) / 2
		weights[value] += w
		total += w
	}
	if total == 0 {
		return "", 0
	}

	values := make([]string, 0, len(weights))
	for v := range weights {
		values = append(values, v)
	}
	sort.Strings(values)

	best, bestW := "", -1.0
	for _, v := range values {
		if weights[v] > bestW {
			best, bestW = v, weights[v]
		}
	}
	return best, bestW / total
}

// maxNeighborSeverity returns the highest severity among the winning
// family's neighbors, defaulting to medium.
func maxNeighborSeverity(results []chromem.Result, family string) scan.Severity {
	severity := scan.SeverityMedium
	for _, r := range results {
		if r.Metadata["family"] != family {
			continue
		}
		if s, err := scan.ParseSeverity(r.Metadata["severity"]); err == nil && s.AtLeast(severity) {
			severity = s
		}
	}
	return severity
}

// Stats returns a snapshot of classifier activity.
func (e *BinaryFirstEngine) Stats() HealthStats {
	return HealthStats{
		Ready:           true,
		AttackSeeds:     e.attackCount,
		BenignSeeds:     e.benignCount,
		Classifications: e.classifications.Load(),
		AttackVerdicts:  e.attackVerdicts.Load(),
		Uncertain:       e.uncertainCount.Load(),
	}
}
