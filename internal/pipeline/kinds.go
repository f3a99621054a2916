package pipeline

import (
	"gis-fillers/internal/filler"
	"gis-fillers/internal/resolver"
	"gis-fillers/internal/zones"
)

// Builder：构建填充单元时共享的外部依赖
type Builder struct {
	Deps resolver.Deps
}

func (b Builder) resolverFactory() filler.ResolverFactory { return resolver.Factory(b.Deps) }

type ctor func(b Builder, e Entry, opts filler.Options) (filler.Filler, error)

// 类型名到构造函数的静态映射
var kinds = map[string]ctor{
	"zaehlsprengel": func(_ Builder, e Entry, opts filler.Options) (filler.Filler, error) {
		var cfg zones.PrefixConfig
		if err := decodeArgs(e, &cfg); err != nil {
			return nil, err
		}
		cfg.GisType = "zaehlsprengel"
		return zones.NewPrefixHierarchy(cfg, opts)
	},
	"zaehlsprengel_simplified": func(_ Builder, e Entry, opts filler.Options) (filler.Filler, error) {
		var cfg zones.PrefixConfig
		if err := decodeArgs(e, &cfg); err != nil {
			return nil, err
		}
		cfg.GisType = "zaehlsprengel_simplified"
		return zones.NewPrefixHierarchy(cfg, opts)
	},
	"prefix_hierarchy": func(_ Builder, e Entry, opts filler.Options) (filler.Filler, error) {
		var cfg zones.PrefixConfig
		if err := decodeArgs(e, &cfg); err != nil {
			return nil, err
		}
		return zones.NewPrefixHierarchy(cfg, opts)
	},
	"zones": func(_ Builder, e Entry, opts filler.Options) (filler.Filler, error) {
		var cfg zones.ZonesConfig
		if err := decodeArgs(e, &cfg); err != nil {
			return nil, err
		}
		return zones.NewZones(cfg, opts)
	},
	"countries": func(_ Builder, e Entry, opts filler.Options) (filler.Filler, error) {
		var cfg zones.CountriesConfig
		if err := decodeArgs(e, &cfg); err != nil {
			return nil, err
		}
		return zones.NewCountries(cfg, opts), nil
	},
	"attribute": func(_ Builder, e Entry, opts filler.Options) (filler.Filler, error) {
		var cfg zones.AttributeConfig
		if err := decodeArgs(e, &cfg); err != nil {
			return nil, err
		}
		return zones.NewAttribute(cfg, opts)
	},
	"rollup": func(_ Builder, e Entry, opts filler.Options) (filler.Filler, error) {
		var cfg zones.RollupConfig
		if err := decodeArgs(e, &cfg); err != nil {
			return nil, err
		}
		return zones.NewRollup(cfg, opts)
	},
	"geonames_zipcodes": func(_ Builder, e Entry, opts filler.Options) (filler.Filler, error) {
		var cfg zones.ZipcodesConfig
		if err := decodeArgs(e, &cfg); err != nil {
			return nil, err
		}
		return zones.NewZipcodes(cfg, opts), nil
	},
	"plz_gemeinde": func(_ Builder, e Entry, opts filler.Options) (filler.Filler, error) {
		var cfg zones.PLZConfig
		if err := decodeArgs(e, &cfg); err != nil {
			return nil, err
		}
		return zones.NewPLZ(cfg, opts)
	},
	"roads": func(_ Builder, e Entry, opts filler.Options) (filler.Filler, error) {
		var cfg zones.RoadsConfig
		if err := decodeArgs(e, &cfg); err != nil {
			return nil, err
		}
		return zones.NewRoads(cfg, opts)
	},
	"road_lengths": func(_ Builder, e Entry, opts filler.Options) (filler.Filler, error) {
		var cfg zones.RoadLengthConfig
		if err := decodeArgs(e, &cfg); err != nil {
			return nil, err
		}
		return zones.NewRoadLength(cfg, opts), nil
	},
	"location_resolver": func(b Builder, e Entry, opts filler.Options) (filler.Filler, error) {
		var cfg resolver.Config
		if err := decodeArgs(e, &cfg); err != nil {
			return nil, err
		}
		return resolver.New(cfg, b.Deps, opts)
	},
}
