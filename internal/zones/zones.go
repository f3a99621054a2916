// 包 zones：具体的区域数据填充单元
// 背景：每个单元把一个数据集（行政区划、国家、属性、邮编、道路）写入区域层级表；
// 同一套层级填充逻辑通过 Knobs 参数化几何格式、精度标签与文件名，而不是派生子类型
package zones

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gis-fillers/internal/fetch"
	"gis-fillers/internal/filler"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/store"
)

var (
	ErrBadFormat = errors.New("unsupported geometry source format")
	ErrNoSource  = errors.New("source file missing and no download url configured")
	// ErrNonNumericCode：按位编码层级要求叶子编码为互不相同的整数
	ErrNonNumericCode = errors.New("leaf code is not a unique integer")
)

// 几何来源格式
const (
	FormatGeoJSON = "geojson"
	FormatCSV     = "csv"
)

// Knobs：层级填充的行为参数
// 参数：
// - Format：geojson 或 csv（WKT 列）
// - GisType：几何精度标签，如 zaehlsprengel / zaehlsprengel_simplified
// - FileTemplate：源文件名模板，支持 {gis_type} 与 {year}
type Knobs struct {
	Format       string `yaml:"format"`
	GisType      string `yaml:"gis_type"`
	FileTemplate string `yaml:"file_template"`
}

// File：按模板展开源文件名
func (k Knobs) File(year int) string {
	r := strings.NewReplacer("{gis_type}", k.GisType, "{year}", strconv.Itoa(year))
	return r.Replace(k.FileTemplate)
}

func (k Knobs) geomFormat() (store.GeomFormat, error) {
	switch k.Format {
	case "", FormatGeoJSON:
		return store.GeomGeoJSON, nil
	case FormatCSV:
		return store.GeomWKT, nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadFormat, k.Format)
}

// Downloader：fetch.Fetcher 的最小子集
type Downloader interface {
	Download(ctx context.Context, src, dest string) error
}

var newDownloader = func() Downloader { return fetch.New() }

// ensureSource：确认源文件就绪；缺失时从 url 下载，.zip 归档随后解压到数据目录
// 约束：属于准备阶段，只写本地文件，不写库
func ensureSource(ctx context.Context, dl Downloader, b *filler.Base, file, url string) error {
	path := b.Path(file)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if url == "" {
		return fmt.Errorf("%w: %s", ErrNoSource, path)
	}
	if err := os.MkdirAll(b.DataFolder(), 0o755); err != nil {
		return err
	}
	if dl == nil {
		dl = newDownloader()
	}
	if !strings.HasSuffix(strings.ToLower(url), ".zip") {
		return dl.Download(ctx, url, path)
	}
	archive := b.Path(filepath.Base(url))
	if err := dl.Download(ctx, url, archive); err != nil {
		return err
	}
	files, err := fetch.Unzip(archive, b.DataFolder())
	if err != nil {
		return err
	}
	logger.L().Info("source_unzipped", "filler", b.Name(), "archive", archive, "files", len(files))
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s not found in %s: %w", file, archive, err)
	}
	return nil
}

// markerKey：单元完成标记键，各段以冒号连接
func markerKey(kind string, parts ...string) string {
	return strings.Join(append([]string{kind}, parts...), ":")
}

// gisPresent：指定层级与精度标签下已有几何
func gisPresent(ctx context.Context, q store.Querier, level, gisType string) (bool, error) {
	return store.QueryBool(ctx, q, `SELECT EXISTS (
		SELECT 1 FROM gis_data gd
		JOIN zone_levels zl ON zl.id = gd.zone_level AND zl.name = $1
		JOIN gis_types gt ON gt.id = gd.gis_type AND gt.name = $2)`, level, gisType)
}

// readCSV：读取全部记录；header 为真时丢弃首行，空行与全空白行忽略
func readCSV(path string, comma rune, header bool) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	if comma != 0 {
		r.Comma = comma
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var out [][]string
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if first && header {
			first = false
			continue
		}
		first = false
		if blank(rec) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func blank(rec []string) bool {
	for _, s := range rec {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

func column(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// commaOf：配置中的分隔符文本，支持 "\t"
func commaOf(s string) rune {
	switch s {
	case "":
		return ','
	case `\t`, "tab":
		return '\t'
	}
	return []rune(s)[0]
}
