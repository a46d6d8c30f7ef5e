package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/services/market_watcher"
)

// fileConfig is the optional YAML config file. It seeds the defaults used
// when no state has been stored yet, and tunes the poll loop.
//
//	market:
//	  coin: USDT
//	  fiat: NGN
//	  side: BUY
//	price_range: {min: 1400, max: 1455}
//	min_buy: 10000
//	max_buy: 1000000
//	poll_interval: 5s
type fileConfig struct {
	Market     *marketConfig     `yaml:"market"`
	PriceRange *entity.PriceBand `yaml:"price_range"`
	MinBuy     int64             `yaml:"min_buy"`
	MaxBuy     int64             `yaml:"max_buy"`
	AutoStart  *bool             `yaml:"auto_start"`

	PollInterval          time.Duration `yaml:"poll_interval"`
	BackoffMultiplier     int           `yaml:"backoff_multiplier"`
	PageSize              int           `yaml:"page_size"`
	SeenCapacity          int           `yaml:"seen_capacity"`
	NotificationQueueSize int           `yaml:"notification_queue_size"`
	NotificationTimeout   time.Duration `yaml:"notification_timeout"`
}

type marketConfig struct {
	Coin      string      `yaml:"coin"`
	Fiat      string      `yaml:"fiat"`
	Side      entity.Side `yaml:"side"`
	WatchSide entity.Side `yaml:"watch_side"`
}

// loadFileConfig reads path. An empty path yields the zero config.
func loadFileConfig(path string) (fileConfig, error) {
	if path == "" {
		return fileConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("reading config file: %w", err)
	}
	return parseFileConfig(data)
}

func parseFileConfig(data []byte) (fileConfig, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fileConfig{}, fmt.Errorf("parsing config file: %w", err)
	}
	if err := fc.validate(); err != nil {
		return fileConfig{}, fmt.Errorf("invalid config file: %w", err)
	}
	return fc, nil
}

func (fc fileConfig) validate() error {
	var errs []error
	if fc.Market != nil {
		if err := fc.market(entity.DefaultState(0).Market).Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if fc.PriceRange != nil {
		if err := fc.PriceRange.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if fc.MinBuy != 0 || fc.MaxBuy != 0 {
		def := entity.DefaultState(0)
		bounds := entity.BuyBounds{MinBuy: def.MinBuy, MaxBuy: def.MaxBuy}
		if fc.MinBuy != 0 {
			bounds.MinBuy = fc.MinBuy
		}
		if fc.MaxBuy != 0 {
			bounds.MaxBuy = fc.MaxBuy
		}
		if err := bounds.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if fc.PollInterval < 0 || fc.NotificationTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	return errors.Join(errs...)
}

func (fc fileConfig) market(base entity.MarketFilter) entity.MarketFilter {
	m := *fc.Market
	if m.Coin != "" {
		base.Coin = m.Coin
	}
	if m.Fiat != "" {
		base.Fiat = m.Fiat
	}
	if m.Side != "" {
		base.Side = m.Side.Normalize()
	}
	if m.WatchSide != "" {
		base.WatchSide = m.WatchSide.Normalize()
	} else if m.Side != "" {
		base.WatchSide = ""
	}
	return base
}

// defaultState overlays the file onto the built-in defaults.
func (fc fileConfig) defaultState(adminID int64) entity.State {
	st := entity.DefaultState(adminID)
	if fc.Market != nil {
		st.Market = fc.market(st.Market)
	}
	if fc.PriceRange != nil {
		st.PriceRange = *fc.PriceRange
	}
	if fc.MinBuy != 0 {
		st.MinBuy = fc.MinBuy
	}
	if fc.MaxBuy != 0 {
		st.MaxBuy = fc.MaxBuy
	}
	if fc.AutoStart != nil {
		st.AutoStart = *fc.AutoStart
	}
	return st
}

// watcherConfig copies the loop tuning. Zero fields keep the service defaults.
func (fc fileConfig) watcherConfig() market_watcher.Config {
	return market_watcher.Config{
		PollInterval:          fc.PollInterval,
		BackoffMultiplier:     fc.BackoffMultiplier,
		PageSize:              fc.PageSize,
		SeenCapacity:          fc.SeenCapacity,
		NotificationQueueSize: fc.NotificationQueueSize,
		NotificationTimeout:   fc.NotificationTimeout,
	}
}
