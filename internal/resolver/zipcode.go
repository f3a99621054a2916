package resolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ZipResolver：邮编 → geonames 邮编点
// 参数：Fields[0] 为邮编，Fields[1]（可选）为国家（ISO 代码或英文/德文国名），缺省用 Country
type ZipResolver struct {
	DB      *sql.DB
	Country string
}

func newZipStrategy(db *sql.DB, _ Deps, args map[string]any, _ bool) (Strategy, error) {
	z := &ZipResolver{DB: db}
	if c := argString(args, "country", ""); c != "" {
		code, ok := NormalizeCountry(c)
		if !ok {
			return nil, fmt.Errorf("unknown country %q", c)
		}
		z.Country = code
	}
	return z, nil
}

func (z *ZipResolver) Resolve(ctx context.Context, locs []Location) ([]Result, error) {
	out := make([]Result, len(locs))
	for i, l := range locs {
		zip := strings.ToUpper(l.Field(0))
		country := z.Country
		if c := l.Field(1); c != "" {
			code, ok := NormalizeCountry(c)
			if !ok {
				continue
			}
			country = code
		}
		if zip == "" || country == "" {
			continue
		}
		var lat, lon float64
		err := z.DB.QueryRowContext(ctx, `SELECT latitude, longitude FROM geonames_zipcodes WHERE country_code=$1 AND zip_code=$2 LIMIT 1`, country, zip).Scan(&lat, &lon)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("zipcode %s-%s: %w", country, zip, err)
		}
		out[i] = Found(lat, lon)
	}
	return out, nil
}
