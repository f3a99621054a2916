package zones

import (
	"context"
	"fmt"
	"strings"

	"gis-fillers/internal/filler"
	"gis-fillers/internal/geojson"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/store"

	"golang.org/x/text/language"
)

// CountriesConfig：GISCO 国家边界与标注点
type CountriesConfig struct {
	GisType     string `yaml:"gis_type"`
	Year        int    `yaml:"year"`
	URL         string `yaml:"url"`
	RegionsFile string `yaml:"regions_file"`
	LabelsFile  string `yaml:"labels_file"`
}

var gisCOYears = []int{2001, 2006, 2010, 2013, 2016, 2020}

func (c *CountriesConfig) defaults() {
	if c.GisType == "" {
		c.GisType = "zaehlsprengel"
	}
	if c.Year == 0 {
		c.Year = gisCOYears[len(gisCOYears)-1]
	}
	k := Knobs{GisType: c.GisType}
	if c.URL == "" {
		k.FileTemplate = "https://gisco-services.ec.europa.eu/distribution/v2/countries/download/ref-countries-{year}-01m.geojson.zip"
		c.URL = k.File(c.Year)
	}
	if c.RegionsFile == "" {
		k.FileTemplate = "CNTR_RG_01M_{year}_4326.geojson"
		c.RegionsFile = k.File(c.Year)
	}
	if c.LabelsFile == "" {
		k.FileTemplate = "CNTR_LB_{year}_4326.geojson"
		c.LabelsFile = k.File(c.Year)
	}
}

// CountriesFiller：国家层级；几何取边界文件，中心点取标注点文件
type CountriesFiller struct {
	filler.Base
	cfg     CountriesConfig
	dl      Downloader
	regions []geojson.Feature
	labels  map[string][2]float64
}

func NewCountries(cfg CountriesConfig, opts filler.Options) *CountriesFiller {
	cfg.defaults()
	known := false
	for _, y := range gisCOYears {
		known = known || y == cfg.Year
	}
	if !known {
		logger.L().Warn("countries_year_unlisted", "year", cfg.Year, "known", gisCOYears)
	}
	if opts.Name == "" {
		opts.Name = "countries"
	}
	f := &CountriesFiller{Base: filler.NewBase(opts), cfg: cfg}
	f.SetArgs(map[string]any{"gis_type": cfg.GisType, "year": cfg.Year, "url": cfg.URL})
	return f
}

func (f *CountriesFiller) Prepare(ctx context.Context) error {
	ok, err := gisPresent(ctx, f.DB(), "country", f.cfg.GisType)
	if err != nil {
		return err
	}
	if ok {
		f.SetDone()
		return nil
	}
	if err := ensureSource(ctx, f.dl, &f.Base, f.cfg.RegionsFile, f.cfg.URL); err != nil {
		return err
	}
	if err := ensureSource(ctx, f.dl, &f.Base, f.cfg.LabelsFile, f.cfg.URL); err != nil {
		return err
	}
	if f.regions, err = geojson.ReadFile(f.Path(f.cfg.RegionsFile)); err != nil {
		return err
	}
	labels, err := geojson.ReadFile(f.Path(f.cfg.LabelsFile))
	if err != nil {
		return err
	}
	f.labels = make(map[string][2]float64, len(labels))
	for _, l := range labels {
		if lon, lat, ok := l.Point(); ok {
			f.labels[countryCode(l)] = [2]float64{lon, lat}
		}
	}
	return nil
}

func (f *CountriesFiller) Apply(ctx context.Context) error {
	if err := f.RecordFile(ctx, f.cfg.RegionsFile, "countries_geojson"); err != nil {
		return err
	}
	if err := f.RecordFile(ctx, f.cfg.LabelsFile, "countries_geojsonLB"); err != nil {
		return err
	}
	db := f.DB()
	if err := store.RecordSource(ctx, db, "countries_geojson", f.cfg.URL); err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	level, err := store.EnsureLevel(ctx, tx, "country", "Country")
	if err != nil {
		return err
	}
	gisType, err := store.EnsureGisType(ctx, tx, f.cfg.GisType)
	if err != nil {
		return err
	}
	n := 0
	for _, r := range f.regions {
		code := countryCode(r)
		if code == "" || !r.IsAreal() {
			continue
		}
		id := CountryID(code)
		if err := store.InsertZone(ctx, tx, store.Zone{Level: level, ID: id, Code: code, Name: r.Prop("NAME_ENGL")}); err != nil {
			return fmt.Errorf("country %s: %w", code, err)
		}
		var center *[2]float64
		if c, ok := f.labels[code]; ok {
			center = &c
		}
		if err := store.InsertGis(ctx, tx, level, gisType, id, store.GeomGeoJSON, string(r.Geometry), center); err != nil {
			return fmt.Errorf("country gis %s: %w", code, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.L().Info("countries_filled", "filler", f.Name(), "countries", n)
	return nil
}

func countryCode(f geojson.Feature) string {
	if c := f.Prop("CNTR_ID"); c != "" {
		return strings.ToUpper(c)
	}
	return strings.ToUpper(f.Prop("id"))
}

// GISCO 使用的非 ISO 代码
var gisCOAliases = map[string]string{"EL": "GR", "UK": "GB"}

// CountryID：国家区域编号取 ISO 3166 数字码；无法识别的代码落在 1000 以上的字母编码区间
func CountryID(code string) int64 {
	code = strings.ToUpper(strings.TrimSpace(code))
	if a, ok := gisCOAliases[code]; ok {
		code = a
	}
	if r, err := language.ParseRegion(code); err == nil && r.IsCountry() {
		if m := r.M49(); m > 0 {
			return int64(m)
		}
	}
	var id int64 = 1000
	for _, c := range code {
		id = id*27 + int64(c-'A'+1)
	}
	return id
}
