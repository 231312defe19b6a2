package reports

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/calculation"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/ledger"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/marketplace"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/reports/export"
	"carbon-scribe/energy-credits/energy-credits-backend/pkg/storage"
)

// MaxExportRows bounds a single export.
const MaxExportRows = 100000

type TradeSource interface {
	ListTrades(ctx context.Context, limit int) ([]marketplace.Trade, error)
}

type MintSource interface {
	ListMintRecords(ctx context.Context, limit int) ([]ledger.MintRecord, error)
}

type RetirementSource interface {
	GetRetirement(ctx context.Context, id uuid.UUID) (*ledger.Retirement, error)
}

// ArchiveConfig locates exported artifacts in object storage.
type ArchiveConfig struct {
	Bucket string
	Prefix string
}

// Service renders exports and certificates from ledger and marketplace
// records. It reads only.
type Service struct {
	trades      TradeSource
	mints       MintSource
	retirements RetirementSource
	policy      *calculation.Policy
	storage     storage.S3Client
	archive     ArchiveConfig
	issuer      string
	logger      *zap.Logger
	now         func() time.Time
}

func NewService(
	trades TradeSource,
	mints MintSource,
	retirements RetirementSource,
	policy *calculation.Policy,
	store storage.S3Client,
	archive ArchiveConfig,
	issuer string,
	logger *zap.Logger,
) *Service {
	return &Service{
		trades:      trades,
		mints:       mints,
		retirements: retirements,
		policy:      policy,
		storage:     store,
		archive:     archive,
		issuer:      issuer,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ExportTrades renders every settled trade.
func (s *Service) ExportTrades(ctx context.Context, format Format) (*Artifact, error) {
	if !format.Valid() {
		return nil, apperrors.Validation("unsupported format %q", format)
	}
	table, err := s.tradesTable(ctx)
	if err != nil {
		return nil, err
	}
	return s.render(table, "trades", format)
}

// ExportMints renders every mint record.
func (s *Service) ExportMints(ctx context.Context, format Format) (*Artifact, error) {
	if !format.Valid() {
		return nil, apperrors.Validation("unsupported format %q", format)
	}
	table, err := s.mintsTable(ctx)
	if err != nil {
		return nil, err
	}
	return s.render(table, "mints", format)
}

// Certificate renders the PDF certificate of one retirement.
func (s *Service) Certificate(ctx context.Context, retirementID uuid.UUID) (*Artifact, error) {
	retirement, err := s.retirements.GetRetirement(ctx, retirementID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = export.NewCertificateGenerator(export.DefaultPDFOptions()).Render(&buf, export.CertificateData{
		RetirementID: retirement.ID,
		AccountID:    retirement.AccountID,
		Beneficiary:  retirement.Beneficiary,
		CreditTokens: retirement.CreditTokens,
		CO2Tons:      s.policy.TonsForTokens(retirement.CreditTokens),
		RetiredAt:    retirement.RetiredAt,
		Issuer:       s.issuer,
	})
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Name:        fmt.Sprintf("retirement-%s.pdf", retirement.ID),
		ContentType: "application/pdf",
		Data:        buf.Bytes(),
	}, nil
}

// Archive uploads a workbook with trades and mints plus CSV copies to object
// storage under prefix/date/. It returns the uploaded keys.
func (s *Service) Archive(ctx context.Context) ([]string, error) {
	if s.storage == nil || s.archive.Bucket == "" {
		return nil, fmt.Errorf("export archive is not configured")
	}

	trades, err := s.tradesTable(ctx)
	if err != nil {
		return nil, err
	}
	mints, err := s.mintsTable(ctx)
	if err != nil {
		return nil, err
	}

	workbook, err := s.workbook(trades, mints)
	if err != nil {
		return nil, err
	}
	artifacts := []*Artifact{{
		Name:        "energy-credits.xlsx",
		ContentType: contentTypes[FormatXLSX],
		Data:        workbook,
	}}
	for _, t := range []struct {
		table *export.Table
		name  string
	}{{trades, "trades"}, {mints, "mints"}} {
		a, err := s.render(t.table, t.name, FormatCSV)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}

	day := s.now().Format("2006-01-02")
	keys := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		key := path.Join(s.archive.Prefix, day, a.Name)
		if err := s.storage.Upload(ctx, s.archive.Bucket, key, bytes.NewReader(a.Data)); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	s.logger.Info("Exports archived",
		zap.String("bucket", s.archive.Bucket),
		zap.Strings("keys", keys),
		zap.Int("trades", len(trades.Rows)),
		zap.Int("mints", len(mints.Rows)))
	return keys, nil
}

func (s *Service) tradesTable(ctx context.Context) (*export.Table, error) {
	trades, err := s.trades.ListTrades(ctx, MaxExportRows)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	table := &export.Table{
		Name: "Trades",
		Columns: []string{
			"trade_id", "listing_id", "buyer_id", "seller_id",
			"credit_tokens", "co2_offset_tons", "price_units", "price", "settled_at",
		},
		Rows: make([][]interface{}, 0, len(trades)),
	}
	for _, t := range trades {
		table.Rows = append(table.Rows, []interface{}{
			t.ID, t.ListingID, t.BuyerID, t.SellerID,
			t.CreditTokens, t.CO2OffsetTons, t.PriceUnits, s.policy.PriceFromUnits(t.PriceUnits), t.SettledAt,
		})
	}
	return table, nil
}

func (s *Service) mintsTable(ctx context.Context) (*export.Table, error) {
	records, err := s.mints.ListMintRecords(ctx, MaxExportRows)
	if err != nil {
		return nil, fmt.Errorf("failed to load mint records: %w", err)
	}
	table := &export.Table{
		Name: "Mints",
		Columns: []string{
			"mint_id", "submission_id", "producer_id",
			"co2_kg", "credit_tokens_minted", "energy_tokens_credited", "minted_at",
		},
		Rows: make([][]interface{}, 0, len(records)),
	}
	for _, r := range records {
		table.Rows = append(table.Rows, []interface{}{
			r.ID, r.SubmissionID, r.ProducerID,
			r.CO2Kg, r.CreditTokensMinted, r.EnergyTokensCredited, r.MintedAt,
		})
	}
	return table, nil
}

func (s *Service) render(table *export.Table, name string, format Format) (*Artifact, error) {
	var buf bytes.Buffer
	switch format {
	case FormatCSV:
		if err := export.NewCSVExporter(&buf, export.DefaultCSVOptions()).WriteTable(table); err != nil {
			return nil, fmt.Errorf("failed to write csv: %w", err)
		}
	case FormatXLSX:
		data, err := s.workbook(table)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return &Artifact{
		Name:        fmt.Sprintf("%s.%s", name, format),
		ContentType: contentTypes[format],
		Data:        buf.Bytes(),
	}, nil
}

func (s *Service) workbook(tables ...*export.Table) ([]byte, error) {
	exporter := export.NewExcelExporter(export.DefaultExcelOptions())
	defer exporter.Close()

	for _, t := range tables {
		if err := exporter.AddTable(t); err != nil {
			return nil, fmt.Errorf("failed to write sheet %s: %w", t.Name, err)
		}
	}
	var buf bytes.Buffer
	if _, err := exporter.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
