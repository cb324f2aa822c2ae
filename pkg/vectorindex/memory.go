package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// memoryIndex 是进程内的降级索引实现。
// 查询做全量线性扫描计算余弦相似度，再取 top-k。它是正确性替代品而非
// 性能路径，查询语义与远程后端保持一致。
type memoryIndex struct {
	mu         sync.RWMutex
	namespaces map[Namespace]*namespaceStore
}

// namespaceStore 持有单个命名空间的全部条目。
// 各命名空间持有独立的锁，互不阻塞；同一命名空间内的变更串行化，
// 保证并发 query 不会读到撕裂的条目。
type namespaceStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	nextSeq uint64
}

type memoryEntry struct {
	vector []float32
	meta   Metadata
	seq    uint64 // 首次插入顺序，用于同分时的确定性排序
}

// NewMemoryIndex 创建一个内存索引。
func NewMemoryIndex() Index {
	return &memoryIndex{namespaces: make(map[Namespace]*namespaceStore)}
}

func (m *memoryIndex) Name() string {
	return "memory"
}

// ns 返回命名空间的存储，必要时创建。
func (m *memoryIndex) ns(namespace Namespace, create bool) *namespaceStore {
	m.mu.RLock()
	store, ok := m.namespaces[namespace]
	m.mu.RUnlock()
	if ok || !create {
		return store
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if store, ok = m.namespaces[namespace]; ok {
		return store
	}
	store = &namespaceStore{entries: make(map[string]*memoryEntry)}
	m.namespaces[namespace] = store
	return store
}

func (m *memoryIndex) Upsert(ctx context.Context, namespace Namespace, entryID string, vector []float32, meta Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store := m.ns(namespace, true)

	store.mu.Lock()
	defer store.mu.Unlock()

	seq := store.nextSeq
	if prev, ok := store.entries[entryID]; ok {
		// 替换保留原插入序号，条目身份不变
		seq = prev.seq
	} else {
		store.nextSeq++
	}
	copied := make([]float32, len(vector))
	copy(copied, vector)
	store.entries[entryID] = &memoryEntry{vector: copied, meta: meta, seq: seq}
	return nil
}

func (m *memoryIndex) Query(ctx context.Context, namespace Namespace, vector []float32, topK int, filter *Filter) ([]Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK 必须为正整数, 实际为 %d", ErrInvalidQuery, topK)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	store := m.ns(namespace, false)
	if store == nil {
		return []Match{}, nil
	}

	type scored struct {
		Match
		seq uint64
	}

	store.mu.RLock()
	candidates := make([]scored, 0, len(store.entries))
	for id, entry := range store.entries {
		if len(entry.vector) != len(vector) {
			// 维度不一致的条目无法比较，跳过
			continue
		}
		if !filterMatches(entry.meta, filter) {
			continue
		}
		candidates = append(candidates, scored{
			Match: Match{EntryID: id, Score: cosineSimilarity(vector, entry.vector), Metadata: entry.meta},
			seq:   entry.seq,
		})
	}
	store.mu.RUnlock()

	// 分数降序，同分按插入顺序（先入先出）保证确定性
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].seq < candidates[j].seq
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	matches := make([]Match, len(candidates))
	for i, c := range candidates {
		matches[i] = c.Match
	}
	return matches, nil
}

func (m *memoryIndex) Delete(ctx context.Context, namespace Namespace, entryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store := m.ns(namespace, false)
	if store == nil {
		return nil
	}
	store.mu.Lock()
	delete(store.entries, entryID)
	store.mu.Unlock()
	return nil
}

func (m *memoryIndex) DeleteByDocument(ctx context.Context, namespace Namespace, sourceDocumentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	store := m.ns(namespace, false)
	if store == nil {
		return 0, nil
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	deleted := 0
	for id, entry := range store.entries {
		if entry.meta.SourceDocumentID == sourceDocumentID {
			delete(store.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

// cosineSimilarity 计算两个向量的余弦相似度，零向量返回 0。
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
