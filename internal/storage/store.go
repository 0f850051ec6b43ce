// Package storage 会话内的临时历史记录存储。
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"repplus/internal/fuzz"
	"repplus/internal/logger"
	"repplus/internal/regexcache"
	"repplus/internal/replay"
	"repplus/pkg/domain"
	"repplus/pkg/traffic"
)

// ErrInvalidFilter 历史查询条件无效
var ErrInvalidFilter = errors.New("invalid history filter")

// MemoryDSN 默认使用内存数据库，会话结束即丢弃
const MemoryDSN = ":memory:"

// 历史记录来源
const (
	SourceIntercept = "intercept"
	SourceReplay    = "replay"
)

// Exchange 一条历史记录：拦截事务的处理结果或一次重放的请求与响应
type Exchange struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	SessionID       string         `gorm:"index;size:64" json:"sessionId"`
	Source          string         `gorm:"size:16" json:"source"`
	Action          string         `gorm:"size:32" json:"action"`
	TransactionID   string         `gorm:"size:64" json:"transactionId,omitempty"`
	Kind            string         `gorm:"size:16" json:"kind"`
	TabID           string         `gorm:"size:128" json:"tabId,omitempty"`
	Method          string         `gorm:"size:16" json:"method"`
	URL             string         `json:"url"`
	RequestHeaders  traffic.Header `gorm:"serializer:json" json:"requestHeaders"`
	RequestBody     []byte         `json:"requestBody,omitempty"`
	Status          int            `json:"status"`
	StatusText      string         `gorm:"size:128" json:"statusText,omitempty"`
	ResponseHeaders traffic.Header `gorm:"serializer:json" json:"responseHeaders"`
	ResponseBody    []byte         `json:"responseBody,omitempty"`
	Modified        bool           `json:"modified"`
	ElapsedMS       int64          `json:"elapsedMs"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// AttackRecord 一条攻击结果
type AttackRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SessionID      string    `gorm:"index:idx_attack;size:64" json:"sessionId"`
	AttackID       string    `gorm:"index:idx_attack;size:64" json:"attackId"`
	Ordinal        int       `json:"ordinal"`
	PayloadDisplay string    `json:"payload"`
	Payloads       []string  `gorm:"serializer:json" json:"payloads"`
	Status         int       `json:"status"`
	Length         int       `json:"length"`
	ElapsedMS      int64     `json:"elapsedMs"`
	DiffScore      int       `json:"diffScore"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Options 存储配置
type Options struct {
	DSN    string
	Prefix string
	Logger logger.Logger
}

// Store 基于 gorm + sqlite 的历史存储
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// Open 打开数据库并迁移表结构
func Open(opts Options) (*Store, error) {
	if opts.DSN == "" {
		opts.DSN = MemoryDSN
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(opts.DSN), &gorm.Config{
		Logger:         NewGormLogger(opts.Logger),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	// 内存库每个连接各自独立，只保留一个连接
	if opts.DSN == MemoryDSN {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&Exchange{}, &AttackRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate history store: %w", err)
	}
	return &Store{db: db, log: opts.Logger}, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordTransaction 记录一个已放行或已丢弃的拦截事务
func (s *Store) RecordTransaction(ctx context.Context, session domain.SessionID, action string, tx *domain.Transaction) error {
	rec := Exchange{
		SessionID:     string(session),
		Source:        SourceIntercept,
		Action:        action,
		TransactionID: tx.ID,
		Kind:          string(tx.Kind),
		TabID:         string(tx.TabID),
		Method:        tx.Method,
		URL:           tx.URL,
		Modified:      tx.Modified,
		CreatedAt:     time.Now(),
	}
	if tx.Kind == domain.KindResponse {
		rec.Status = tx.StatusCode
		rec.StatusText = tx.StatusText
		rec.ResponseHeaders = tx.Headers
		rec.ResponseBody = tx.Body
	} else {
		rec.RequestHeaders = tx.Headers
		rec.RequestBody = tx.Body
	}
	return s.create(ctx, &rec)
}

// RecordReplay 记录一次重放，resp 为空时记录失败原因
func (s *Store) RecordReplay(ctx context.Context, session domain.SessionID, req *traffic.Request, resp *replay.Response, sendErr error) error {
	rec := Exchange{
		SessionID:      string(session),
		Source:         SourceReplay,
		Action:         "sent",
		Kind:           string(domain.KindRequest),
		Method:         req.Method,
		URL:            req.URL,
		RequestHeaders: req.Headers,
		RequestBody:    req.Body,
		CreatedAt:      time.Now(),
	}
	if resp != nil {
		rec.Status = resp.Status
		rec.StatusText = resp.StatusText
		rec.ResponseHeaders = resp.Headers
		rec.ResponseBody = resp.Body
		rec.ElapsedMS = resp.ElapsedMS()
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}
	return s.create(ctx, &rec)
}

// RecordAttackResult 记录一条攻击结果
func (s *Store) RecordAttackResult(ctx context.Context, session domain.SessionID, attack domain.AttackID, r *fuzz.Result) error {
	rec := AttackRecord{
		SessionID:      string(session),
		AttackID:       string(attack),
		Ordinal:        r.Ordinal,
		PayloadDisplay: r.PayloadDisplay,
		Payloads:       r.Payloads,
		Status:         r.Status,
		Length:         r.Length,
		ElapsedMS:      r.ElapsedMS,
		DiffScore:      r.DiffScore,
		Error:          r.Error,
		CreatedAt:      time.Now(),
	}
	return s.create(ctx, &rec)
}

// HistoryFilter 历史查询条件，零值表示按写入顺序返回全部
type HistoryFilter struct {
	// Query 在 URL、方法、请求头与请求体中不区分大小写地搜索
	Query string
	Regex bool
	// Method 为空或 all 表示不过滤
	Method string
	// SortBy 取 time / status / size / url
	SortBy string
	Desc   bool
	Limit  int
}

var sortColumns = map[string]string{
	"":       "id",
	"time":   "id",
	"status": "status",
	"size":   "length(response_body)",
	"url":    "url",
}

// History 按条件返回会话历史
func (s *Store) History(ctx context.Context, session domain.SessionID, f HistoryFilter) ([]Exchange, error) {
	col, ok := sortColumns[f.SortBy]
	if !ok {
		return nil, fmt.Errorf("%w: unknown sort %q", ErrInvalidFilter, f.SortBy)
	}
	match, err := f.matcher()
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Where("session_id = ?", string(session))
	if m := strings.ToUpper(strings.TrimSpace(f.Method)); m != "" && m != "ALL" {
		q = q.Where("UPPER(method) = ?", m)
	}
	dir := " asc"
	if f.Desc {
		dir = " desc"
	}
	q = q.Order(col + dir)
	if col != "id" {
		q = q.Order("id asc")
	}
	// 文本搜索在内存中进行，此时 limit 需在过滤之后应用
	if f.Limit > 0 && match == nil {
		q = q.Limit(f.Limit)
	}

	var out []Exchange
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	if match == nil {
		return out, nil
	}
	kept := out[:0]
	for _, e := range out {
		if match(e.searchText()) {
			kept = append(kept, e)
			if f.Limit > 0 && len(kept) == f.Limit {
				break
			}
		}
	}
	return kept, nil
}

func (f HistoryFilter) matcher() (func(string) bool, error) {
	if f.Query == "" {
		return nil, nil
	}
	if f.Regex {
		re, err := regexcache.Get("(?i)" + f.Query)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		return re.MatchString, nil
	}
	needle := strings.ToLower(f.Query)
	return func(s string) bool { return strings.Contains(strings.ToLower(s), needle) }, nil
}

func (e *Exchange) searchText() string {
	headers, _ := json.Marshal(e.RequestHeaders)
	return strings.Join([]string{e.URL, e.Method, string(headers), string(e.RequestBody)}, " ")
}

// AttackResults 按序号返回某次攻击的已记录结果
func (s *Store) AttackResults(ctx context.Context, session domain.SessionID, attack domain.AttackID) ([]AttackRecord, error) {
	var out []AttackRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND attack_id = ?", string(session), string(attack)).
		Order("ordinal asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query attack results: %w", err)
	}
	return out, nil
}

// Clear 删除会话的全部历史
func (s *Store) Clear(ctx context.Context, session domain.SessionID) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("session_id = ?", string(session)).Delete(&Exchange{}).Error; err != nil {
		return err
	}
	return db.Where("session_id = ?", string(session)).Delete(&AttackRecord{}).Error
}

func (s *Store) create(ctx context.Context, v any) error {
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		s.log.Err(err, "写入历史记录失败")
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}
