package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"gis-fillers/internal/logger"

	"github.com/zeebo/blake3"
)

const (
	HashSHA256 = "sha256"
	HashBLAKE3 = "blake3"
)

func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case "", HashSHA256:
		return sha256.New(), nil
	case HashBLAKE3:
		return blake3.New(), nil
	}
	return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
}

// HashFile：流式计算文件内容哈希，返回十六进制文本
func HashFile(algo, path string) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashBytes(algo string, b []byte) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RecordFile：计算源文件哈希并按 filecode 写入 file_hash
// 背景：每份被消费的源文件都可追溯到具体内容；同一 filecode 再次登记时覆盖为最新内容
// 参数：folder 为空时使用编排器的数据目录
func (d *Database) RecordFile(ctx context.Context, filename, filecode, folder string) error {
	if folder == "" {
		folder = d.dataFolder
	}
	path := filepath.Join(folder, filename)
	sum, err := HashFile(d.hashAlgo, path)
	if err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	algo := d.hashAlgo
	if algo == "" {
		algo = HashSHA256
	}
	_, err = d.db.ExecContext(ctx, `INSERT INTO file_hash(filecode, filename, hash, hash_algo, updated_at) VALUES($1, $2, $3, $4, now())
		ON CONFLICT (filecode) DO UPDATE SET filename=EXCLUDED.filename, hash=EXCLUDED.hash, hash_algo=EXCLUDED.hash_algo, updated_at=now()`,
		filecode, filename, sum, algo)
	if err != nil {
		return fmt.Errorf("record file %s: %w", filecode, err)
	}
	logger.L().Info("file_recorded", "filecode", filecode, "file", filename, "hash", sum, "algo", algo)
	return nil
}
