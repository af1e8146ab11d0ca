package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/doc-relay/internal/convert"
)

// 変換タスク（convert:process）専用のキー空間
const jobKeyPrefix = "convert:job:"

// Store は変換ジョブの状態を Redis に保存します。
// レコードは TTL 付きで、ジョブ成果物の保持期間と揃えます。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get はジョブ情報を取得します。存在しない場合は nil を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(jobID, data)
}

// CreateQueued はキュー投入直後のレコードを作成します。
func (s *Store) CreateQueued(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	now := time.Now().UTC()
	record := &Record{
		JobID:  jobID,
		Status: StatusQueued,
		Progress: ProgressInfo{
			Stage: convert.StageQueued,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.ttl > 0 {
		record.ExpiresAt = now.Add(s.ttl)
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, jobKey(jobID), payload, s.ttl).Err()
}

// MarkRunning はワーカーがジョブを取り出したことを記録します。
func (s *Store) MarkRunning(ctx context.Context, jobID string) error {
	return s.update(ctx, jobID, func(record *Record) {
		record.Status = StatusRunning
		record.Progress = ProgressInfo{
			Stage: convert.StageLoad,
		}
	})
}

// UpdateProgress はパイプラインの段階進捗を更新します。
// 完了・失敗済みのレコードは上書きしません。
func (s *Store) UpdateProgress(ctx context.Context, jobID string, stage convert.Stage, percent int) error {
	return s.update(ctx, jobID, func(record *Record) {
		if record.Status != StatusRunning {
			return
		}
		record.Progress = ProgressInfo{
			Stage:   stage,
			Percent: percent,
		}
	})
}

// MarkDone は変換サマリーとダウンロードURLを保存してジョブを完了にします。
func (s *Store) MarkDone(ctx context.Context, jobID string, downloadURL string, summary *convert.Summary) error {
	return s.update(ctx, jobID, func(record *Record) {
		record.Status = StatusSucceeded
		record.Progress = ProgressInfo{
			Percent: 100,
			Stage:   convert.StageCompleted,
		}
		record.DownloadURL = downloadURL
		record.Meta = summary
		record.Error = nil
	})
}

// MarkFailed はジョブ失敗時のエラー情報を保存します。
func (s *Store) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.update(ctx, jobID, func(record *Record) {
		record.Status = StatusFailed
		if errInfo != nil {
			record.Error = errInfo
		}
	})
}

// update はレコードを読み取り→変更→保存します。WATCH による楽観ロックで
// 並行更新（ワーカーの進捗更新と完了処理など）と競合したら読み直します。
func (s *Store) update(ctx context.Context, jobID string, mutate func(*Record)) error {
	key := jobKey(jobID)
	for {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("job not found: %s", jobID)
			}
			if err != nil {
				return err
			}
			record, err := decodeRecord(jobID, data)
			if err != nil {
				return err
			}

			mutate(record)
			record.UpdatedAt = time.Now().UTC()

			payload, err := json.Marshal(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
}

func decodeRecord(jobID string, data []byte) (*Record, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("broken job record %s: %w", jobID, err)
	}
	return &record, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
