package zones

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gis-fillers/internal/fetch"
	"gis-fillers/internal/filler"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/store"
)

// ZipcodesConfig：geonames 邮编导出
type ZipcodesConfig struct {
	URL       string   `yaml:"url"`
	Archive   string   `yaml:"archive"`
	Member    string   `yaml:"member"`
	Countries []string `yaml:"countries"`
	BatchSize int      `yaml:"batch_size"`
}

// ZipcodesFiller：geonames 邮编点写入 geonames_zipcodes，供邮编解析使用
type ZipcodesFiller struct {
	filler.Base
	cfg       ZipcodesConfig
	dl        Downloader
	countries map[string]bool
}

func NewZipcodes(cfg ZipcodesConfig, opts filler.Options) *ZipcodesFiller {
	if cfg.URL == "" {
		cfg.URL = "https://download.geonames.org/export/zip/allCountries.zip"
	}
	if cfg.Archive == "" {
		cfg.Archive = "geonames_allCountries.zip"
	}
	if cfg.Member == "" {
		cfg.Member = "allCountries.txt"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	if opts.Name == "" {
		opts.Name = "geonames_zipcodes"
	}
	f := &ZipcodesFiller{Base: filler.NewBase(opts), cfg: cfg}
	if len(cfg.Countries) > 0 {
		f.countries = make(map[string]bool, len(cfg.Countries))
		for _, c := range cfg.Countries {
			f.countries[strings.ToUpper(c)] = true
		}
	}
	f.SetArgs(map[string]any{"url": cfg.URL, "countries": cfg.Countries})
	return f
}

func (f *ZipcodesFiller) marker() string {
	cs := append([]string{}, f.cfg.Countries...)
	for i := range cs {
		cs[i] = strings.ToUpper(cs[i])
	}
	sort.Strings(cs)
	return markerKey("geonames_zipcodes", strings.Join(cs, ","))
}

// Prepare：完成标记随最后一批提交；中途失败后重跑会从头补齐
func (f *ZipcodesFiller) Prepare(ctx context.Context) error {
	ok, err := store.Filled(ctx, f.DB(), f.marker())
	if err != nil {
		return err
	}
	if ok {
		f.SetDone()
		return nil
	}
	if _, err := os.Stat(f.Path(f.cfg.Archive)); err == nil {
		return nil
	}
	dl := f.dl
	if dl == nil {
		dl = newDownloader()
	}
	if err := os.MkdirAll(f.DataFolder(), 0o755); err != nil {
		return err
	}
	return dl.Download(ctx, f.cfg.URL, f.Path(f.cfg.Archive))
}

// Apply：制表符分隔，字段依次为国家、邮编、地名……倒数第三、二列为纬度、经度
func (f *ZipcodesFiller) Apply(ctx context.Context) error {
	if err := f.RecordFile(ctx, f.cfg.Archive, "geonames_zipcodes"); err != nil {
		return err
	}
	if err := store.RecordSource(ctx, f.DB(), "geonames_zipcodes", f.cfg.URL); err != nil {
		return err
	}
	dir := f.Path(strings.TrimSuffix(f.cfg.Archive, ".zip"))
	if _, err := fetch.Unzip(f.Path(f.cfg.Archive), dir); err != nil {
		return err
	}
	in, err := os.Open(filepath.Join(dir, f.cfg.Member))
	if err != nil {
		return err
	}
	defer in.Close()

	b, err := store.NewBatch(ctx, f.DB(), "geonames_zipcodes", f.cfg.BatchSize)
	if err != nil {
		return err
	}
	defer b.Rollback()
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line, skipped := 0, 0
	for sc.Scan() {
		line++
		elt := strings.Split(sc.Text(), "\t")
		if len(elt) < 5 {
			skipped++
			continue
		}
		country := strings.ToUpper(strings.TrimSpace(elt[0]))
		if f.countries != nil && !f.countries[country] {
			continue
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(elt[len(elt)-3]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(elt[len(elt)-2]), 64)
		if err1 != nil || err2 != nil {
			skipped++
			continue
		}
		if err := b.Exec(ctx, `INSERT INTO geonames_zipcodes(country_code, zip_code, place_name, latitude, longitude, geom)
			VALUES($1, $2, $3, $4, $5, ST_SetSRID(ST_MakePoint($5, $4), 4326))
			ON CONFLICT DO NOTHING`, country, strings.TrimSpace(elt[1]), strings.TrimSpace(elt[2]), lat, lon); err != nil {
			return fmt.Errorf("%s line %d: %w", f.cfg.Member, line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if err := store.MarkFilled(ctx, b.Tx(), f.marker(), "geonames_zipcodes"); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return err
	}
	logger.L().Info("zipcodes_filled", "filler", f.Name(), "rows", b.Count(), "skipped", skipped)
	return nil
}

// PLZConfig：邮编与市镇（gemeinde）对应表
type PLZConfig struct {
	File           string `yaml:"file"`
	URL            string `yaml:"url"`
	Delimiter      string `yaml:"delimiter"`
	Header         bool   `yaml:"header"`
	PLZColumn      int    `yaml:"plz_column"`
	GemeindeColumn int    `yaml:"gemeinde_column"`
}

// PLZFiller：plz_gemeinde 多对多映射
type PLZFiller struct {
	filler.Base
	cfg  PLZConfig
	dl   Downloader
	recs [][]string
}

func NewPLZ(cfg PLZConfig, opts filler.Options) (*PLZFiller, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("plz filler: file is required")
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = ";"
	}
	if cfg.PLZColumn == cfg.GemeindeColumn {
		cfg.GemeindeColumn = cfg.PLZColumn + 1
	}
	if opts.Name == "" {
		opts.Name = "plz_gemeinde"
	}
	f := &PLZFiller{Base: filler.NewBase(opts), cfg: cfg}
	f.SetArgs(map[string]any{"file": cfg.File})
	return f, nil
}

func (f *PLZFiller) marker() string { return markerKey("plz_gemeinde", f.cfg.File) }

func (f *PLZFiller) Prepare(ctx context.Context) error {
	ok, err := store.Filled(ctx, f.DB(), f.marker())
	if err != nil {
		return err
	}
	if ok {
		f.SetDone()
		return nil
	}
	if err := ensureSource(ctx, f.dl, &f.Base, f.cfg.File, f.cfg.URL); err != nil {
		return err
	}
	f.recs, err = readCSV(f.Path(f.cfg.File), commaOf(f.cfg.Delimiter), f.cfg.Header)
	return err
}

func (f *PLZFiller) Apply(ctx context.Context) error {
	if err := f.RecordFile(ctx, f.cfg.File, "plz_gemeinde"); err != nil {
		return err
	}
	b, err := store.NewBatch(ctx, f.DB(), "plz_gemeinde", 0)
	if err != nil {
		return err
	}
	defer b.Rollback()
	for _, r := range f.recs {
		plz := column(r, f.cfg.PLZColumn)
		gem, err := strconv.ParseInt(column(r, f.cfg.GemeindeColumn), 10, 64)
		if plz == "" || err != nil {
			continue
		}
		if err := b.Exec(ctx, `INSERT INTO plz_gemeinde(plz, gemeinde_id) VALUES($1, $2) ON CONFLICT DO NOTHING`, plz, gem); err != nil {
			return err
		}
	}
	if err := store.MarkFilled(ctx, b.Tx(), f.marker(), "plz_gemeinde"); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return err
	}
	logger.L().Info("plz_filled", "filler", f.Name(), "rows", b.Count())
	return nil
}
