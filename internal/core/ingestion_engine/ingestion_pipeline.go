package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agentica-ai/knowledgebase/internal/core"
	"github.com/agentica-ai/knowledgebase/internal/core/knowledge"
	"github.com/agentica-ai/knowledgebase/internal/core/llm"
	"github.com/agentica-ai/knowledgebase/internal/models"
)

const (
	msgOverloaded = "AI service is temporarily overloaded. Please try again later."
	msgValidation = "Data validation error. Please check the file content and try again."
	msgEmpty      = "No content could be extracted from the file"

	batchRetention = time.Hour
)

// Request identifies who owns the items of a batch.
type Request struct {
	UserID  string
	AgentID string
}

// ItemResult is the terminal outcome of one batch item.
type ItemResult struct {
	Index      int
	FileName   string
	Document   *models.Document
	ChunkCount int
	Err        error
}

// Message is the user facing description of r.Err.
func (r ItemResult) Message() string {
	return UserMessage(r.Err)
}

// UserMessage maps pipeline errors onto the messages shown to users.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrAIOverloaded):
		return msgOverloaded
	case core.IsValidation(err):
		return msgValidation
	case errors.Is(err, core.ErrEmptyContent):
		return msgEmpty
	default:
		return err.Error()
	}
}

// Orchestrator drives files and pages through parse, analyze, chunk, search
// text and persist. Every AI call made on its behalf passes its own Gate.
type Orchestrator struct {
	db       core.DbClient
	obj      core.ObjectClient
	parser   core.FileParser
	gate     *Gate
	analyzer *knowledge.Analyzer
	chunker  *knowledge.Chunker
	search   *knowledge.SearchTextBuilder
	embedder core.EmbeddingProvider
	fetcher  *URLFetcher
	tracker  *Tracker
	cfg      *IngestConfig
	log      *logrus.Entry
	now      func() time.Time
}

// NewOrchestrator wires the pipeline. obj and emb may be nil: uploads are then
// not archived and chunks carry no embedding.
func NewOrchestrator(db core.DbClient, obj core.ObjectClient, parser core.FileParser, gen core.LLMProvider, emb core.EmbeddingProvider, cfg *IngestConfig) *Orchestrator {
	if cfg == nil {
		cfg = DefaultIngestConfig()
	}
	cfg = cfg.withDefaults()

	gate := NewGate(1)
	gated := gate.LLM(gen)
	return &Orchestrator{
		db:       db,
		obj:      obj,
		parser:   parser,
		gate:     gate,
		analyzer: knowledge.NewAnalyzer(gated, cfg.Retry),
		chunker:  knowledge.NewChunker(gated),
		search:   knowledge.NewSearchTextBuilder(gated, cfg.Retry),
		embedder: gate.Embedder(emb),
		fetcher:  NewURLFetcher(cfg.HTTPClient, cfg.URLProxy, cfg.URLRatePerSec, cfg.MaxFileSize),
		tracker:  NewTracker(),
		cfg:      cfg,
		log:      logrus.WithField("component", "orchestrator"),
		now:      time.Now,
	}
}

// Batch returns the tracked state of batch id.
func (o *Orchestrator) Batch(id string) (Batch, bool) {
	return o.tracker.Get(id)
}

// IngestFiles processes files concurrently and returns one result per file, in
// input order. A failing item never affects its siblings.
func (o *Orchestrator) IngestFiles(ctx context.Context, req Request, files []core.File, onStatus StatusFunc) []ItemResult {
	id := o.register(req, fileNames(files))
	return o.runFiles(ctx, id, req, files, onStatus)
}

// IngestURL fetches rawURL and stores its text as a document.
func (o *Orchestrator) IngestURL(ctx context.Context, req Request, rawURL string, onStatus StatusFunc) ItemResult {
	id := o.register(req, []string{rawURL})
	return o.runURL(ctx, id, req, rawURL, onStatus)
}

// Submit starts the batch detached from ctx's cancellation.
func (o *Orchestrator) Submit(ctx context.Context, req Request, files []core.File) string {
	id := o.register(req, fileNames(files))
	go o.runFiles(context.WithoutCancel(ctx), id, req, files, nil)
	return id
}

func (o *Orchestrator) SubmitURL(ctx context.Context, req Request, rawURL string) string {
	id := o.register(req, []string{rawURL})
	go o.runURL(context.WithoutCancel(ctx), id, req, rawURL, nil)
	return id
}

func (o *Orchestrator) register(req Request, names []string) string {
	if n := o.tracker.Prune(o.now().Add(-batchRetention)); n > 0 {
		o.log.Debugf("pruned %d finished batches", n)
	}
	id := uuid.NewString()
	o.tracker.Register(id, req, names)
	return id
}

func fileNames(files []core.File) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return names
}

// item carries one batch entry through the stages.
type item struct {
	batchID  string
	index    int
	name     string
	req      Request
	onStatus StatusFunc
	log      *logrus.Entry
}

func (o *Orchestrator) newItem(batchID string, index int, name string, req Request, onStatus StatusFunc) *item {
	return &item{
		batchID:  batchID,
		index:    index,
		name:     name,
		req:      req,
		onStatus: onStatus,
		log:      o.log.WithFields(logrus.Fields{"batch": batchID, "item": index, "file": name}),
	}
}

func (o *Orchestrator) publish(it *item, u Update) {
	u.BatchID, u.Index, u.FileName = it.batchID, it.index, it.name
	o.tracker.Apply(u)
	if it.onStatus != nil {
		it.onStatus(u)
	}
}

func (o *Orchestrator) stage(it *item, s Stage) {
	it.log.Debugf("stage %s", s)
	o.publish(it, Update{Stage: s})
}

func (o *Orchestrator) finish(it *item, res ItemResult) ItemResult {
	if res.Err != nil {
		it.log.Warnf("ingestion failed: %v", res.Err)
		o.publish(it, Update{Stage: StageError, Error: res.Message()})
		return res
	}
	it.log.WithField("chunks", res.ChunkCount).Info("ingestion completed")
	o.publish(it, Update{Stage: StageCompleted, DocumentID: res.Document.ID, ChunkCount: res.ChunkCount})
	return res
}

func (o *Orchestrator) runFiles(ctx context.Context, batchID string, req Request, files []core.File, onStatus StatusFunc) []ItemResult {
	results := make([]ItemResult, len(files))

	var g errgroup.Group
	for i, f := range files {
		g.Go(func() error {
			it := o.newItem(batchID, i, f.Name, req, onStatus)
			results[i] = o.finish(it, o.processFile(ctx, it, f))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) runURL(ctx context.Context, batchID string, req Request, rawURL string, onStatus StatusFunc) ItemResult {
	it := o.newItem(batchID, 0, rawURL, req, onStatus)
	return o.finish(it, o.processURL(ctx, it, rawURL))
}

// source is extracted text on its way to analysis.
type source struct {
	name      string
	fileType  string
	mimeType  string
	size      int64
	content   string
	url       string
	storePath string
	metadata  map[string]any
}

func (o *Orchestrator) processFile(ctx context.Context, it *item, f core.File) ItemResult {
	res := ItemResult{Index: it.index, FileName: f.Name}

	size := max(f.Size, int64(len(f.Data)))
	if !o.parser.IsSupported(f.Name, f.MIMEType) {
		res.Err = fmt.Errorf("%w: %s. Supported types: %s", core.ErrUnsupportedType, f.Name, o.supportedList())
		return res
	}
	if size > o.cfg.MaxFileSize {
		res.Err = fmt.Errorf("%w: %s is %d bytes, limit is %dMB", core.ErrFileTooLarge, f.Name, size, o.cfg.MaxFileSize/(1024*1024))
		return res
	}

	o.stage(it, StageParsing)
	parsed := o.parser.Parse(ctx, f)
	if !parsed.Success {
		res.Err = errors.New(parsed.Error)
		return res
	}

	o.stage(it, StageExtracting)
	content := strings.TrimSpace(parsed.Content)
	if content == "" {
		res.Err = core.ErrEmptyContent
		return res
	}

	src := source{
		name:     f.Name,
		fileType: o.parser.Describe(f.Name, f.MIMEType),
		mimeType: f.MIMEType,
		size:     size,
		content:  content,
		metadata: parsed.Metadata,
	}
	if t, ok := parsed.Metadata["fileType"].(string); ok && t != "" {
		src.fileType = t
	}
	src.storePath = o.archive(ctx, it, f)

	return o.processContent(ctx, it, src)
}

func (o *Orchestrator) supportedList() string {
	exts := o.parser.SupportedExtensions()
	for i, e := range exts {
		exts[i] = "." + e
	}
	return strings.Join(exts, ", ")
}

func (o *Orchestrator) processURL(ctx context.Context, it *item, rawURL string) ItemResult {
	res := ItemResult{Index: it.index, FileName: rawURL}

	o.stage(it, StageParsing)
	page, err := o.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		res.Err = err
		return res
	}
	res.FileName = page.FileName

	o.stage(it, StageExtracting)
	meta := map[string]any{"source": "url", "url": page.URL}
	if page.Title != "" {
		meta["title"] = page.Title
	}
	return o.processContent(ctx, it, source{
		name:     page.FileName,
		fileType: "html",
		mimeType: "text/html",
		size:     page.HTMLSize,
		content:  page.Text,
		url:      page.URL,
		metadata: meta,
	})
}

// archive keeps the raw upload in object storage. Failures only cost the copy.
func (o *Orchestrator) archive(ctx context.Context, it *item, f core.File) string {
	if o.obj == nil || len(f.Data) == 0 {
		return ""
	}
	key := path.Join(it.req.UserID, it.req.AgentID, fmt.Sprintf("%d_%s", o.now().UnixMilli(), path.Base(f.Name)))
	p, err := o.obj.UploadFile(ctx, key, f.Data, f.MIMEType)
	if err != nil {
		it.log.Warnf("archiving upload failed: %v", err)
		return ""
	}
	return p
}

func (o *Orchestrator) processContent(ctx context.Context, it *item, src source) ItemResult {
	res := ItemResult{Index: it.index, FileName: src.name}

	o.stage(it, StageAnalyzing)
	analysis, err := o.analyzer.Analyze(ctx, src.content, src.name)
	method := "ai-enhanced"
	if err != nil {
		method = "basic"
	} else if len(analysis.Questions) == 0 {
		if qs, qerr := o.analyzer.AnswerableQuestions(ctx, src.content); qerr != nil {
			it.log.Debugf("answerable questions unavailable: %v", qerr)
		} else {
			analysis.Questions = qs[:min(len(qs), maxDocumentQuestions)]
		}
	}

	o.stage(it, StageChunking)
	pieces := o.chunker.Chunk(ctx, src.content, o.cfg.MaxChunkSize)

	o.stage(it, StageStoring)
	doc := o.newDocument(it, src, analysis, method, len(pieces))
	chunks := o.buildChunks(ctx, it, doc.ID, pieces, analysis)

	if err := o.persist(ctx, it, doc, chunks); err != nil {
		res.Err = err
		return res
	}
	res.Document = doc
	res.ChunkCount = len(chunks)
	return res
}

func (o *Orchestrator) newDocument(it *item, src source, analysis models.AnalysisResult, method string, chunkCount int) *models.Document {
	now := o.now().UTC()
	meta := make(map[string]any, len(src.metadata)+4)
	for k, v := range src.metadata {
		meta[k] = v
	}
	meta["processingMethod"] = method
	meta["chunksCount"] = chunkCount
	meta["fileTypeDescription"] = o.parser.Describe(src.name, src.mimeType)
	if src.mimeType != "" {
		meta["mimeType"] = src.mimeType
	}

	return &models.Document{
		ID:               uuid.NewString(),
		UserID:           it.req.UserID,
		AgentID:          it.req.AgentID,
		FileName:         fmt.Sprintf("%d_%s", now.UnixMilli(), src.name),
		OriginalFileName: src.name,
		FileType:         src.fileType,
		FileSize:         src.size,
		Content:          src.content,
		SourceURL:        src.url,
		StoragePath:      src.storePath,
		Metadata:         meta,
		Analysis:         &analysis,
		Status:           models.StatusProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (o *Orchestrator) buildChunks(ctx context.Context, it *item, docID string, pieces []models.ChunkData, analysis models.AnalysisResult) []models.Chunk {
	chunks := make([]models.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = models.Chunk{
			ID:                uuid.NewString(),
			DocumentID:        docID,
			ChunkIndex:        p.ChunkIndex,
			Content:           p.Content,
			Summary:           p.Summary,
			Keywords:          p.Keywords,
			Importance:        p.Importance,
			SearchableContent: o.search.Build(ctx, p.Content, analysis),
			TokenCount:        len(strings.Fields(p.Content)),
			CreatedAt:         o.now().UTC(),
		}
	}
	o.embed(ctx, it, chunks)
	return chunks
}

// embed attaches vectors when an embedder is configured. Chunks stay
// searchable by text when it fails.
func (o *Orchestrator) embed(ctx context.Context, it *item, chunks []models.Chunk) {
	if o.embedder == nil || len(chunks) == 0 {
		return
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := llm.Retry(ctx, o.cfg.Retry, func(ctx context.Context) ([][]float32, error) {
		return o.embedder.EmbedTexts(ctx, texts)
	})
	if err != nil || len(vecs) != len(chunks) {
		it.log.Warnf("chunk embeddings skipped: %v", err)
		return
	}
	if dim := o.cfg.EmbedDim; dim > 0 {
		for _, v := range vecs {
			if len(v) != dim {
				it.log.Warnf("chunk embeddings skipped: got %d dimensions, want %d", len(v), dim)
				return
			}
		}
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}
}

// persist writes the document, falling back to the basic columns on a
// validation error, then its chunks in one transaction.
func (o *Orchestrator) persist(ctx context.Context, it *item, doc *models.Document, chunks []models.Chunk) error {
	err := o.db.CreateDocument(ctx, doc)
	if core.IsValidation(err) {
		it.log.Warnf("enhanced document insert rejected, retrying with basic columns: %v", err)
		err = o.db.CreateDocumentBasic(ctx, doc)
	}
	if err != nil {
		return fmt.Errorf("store document: %w", err)
	}

	if err := o.db.InsertDocumentChunks(ctx, chunks); err != nil {
		if serr := o.db.UpdateDocumentStatus(ctx, doc.ID, models.StatusFailed); serr != nil {
			it.log.Errorf("marking document failed: %v", serr)
		}
		doc.Status = models.StatusFailed
		return fmt.Errorf("store chunks: %w", err)
	}

	if err := o.db.UpdateDocumentStatus(ctx, doc.ID, models.StatusCompleted); err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	doc.Status = models.StatusCompleted
	return nil
}
