package flight

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"gridkit/pkg/catalog"
	"gridkit/pkg/focal"
	"gridkit/pkg/projection"
	"gridkit/pkg/raster"
)

// GridFlightServer serves catalog rasters over Arrow Flight and runs
// raster operations on streamed grids through DoExchange.
type GridFlightServer struct {
	flight.BaseFlightServer
	repo *catalog.Repository
}

func NewGridFlightServer(repo *catalog.Repository) *GridFlightServer {
	return &GridFlightServer{
		repo: repo,
	}
}

// exchangeAction is the JSON envelope clients put in AppMetadata or the
// descriptor command to pick an operation.
type exchangeAction struct {
	Operation string       `json:"operation"`
	CRS       string       `json:"crs"`
	Mappings  [][3]float64 `json:"mappings"`
	Stat      string       `json:"stat"`
	Width     int          `json:"width"`
}

func (s *GridFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	desc, err := stream.Recv()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	var action exchangeAction
	if len(desc.AppMetadata) > 0 {
		if err := json.Unmarshal(desc.AppMetadata, &action); err != nil || action.Operation == "" {
			// Fallback: treat the metadata as a raw operation name
			action = exchangeAction{Operation: string(desc.AppMetadata)}
		}
	} else if desc.FlightDescriptor != nil && len(desc.FlightDescriptor.Cmd) > 0 {
		if err := json.Unmarshal(desc.FlightDescriptor.Cmd, &action); err != nil || action.Operation == "" {
			action = exchangeAction{Operation: string(desc.FlightDescriptor.Cmd)}
		}
	}

	log.Printf("DoExchange operation: %s", action.Operation)

	switch action.Operation {
	case "remap_range", "focal", "reproject":
		return s.handleRasterOp(stream, action)
	default:
		return fmt.Errorf("unsupported operation: %s", action.Operation)
	}
}

// handleRasterOp reads the streamed raster, applies the requested
// operation and streams the evaluated result back.
func (s *GridFlightServer) handleRasterOp(stream flight.FlightService_DoExchangeServer, action exchangeAction) error {
	ctx := stream.Context()

	in, err := s.receiveRaster(stream)
	if err != nil {
		return err
	}
	defer in.Close()

	var out *raster.Raster
	switch action.Operation {
	case "remap_range":
		if len(action.Mappings) == 0 {
			return fmt.Errorf("remap_range needs at least one mapping")
		}
		mappings := make([]raster.RangeMapping, len(action.Mappings))
		for i, m := range action.Mappings {
			mappings[i] = raster.RangeMapping{Min: m[0], Max: m[1], NewValue: m[2]}
		}
		out, err = in.RemapRange(mappings...)
	case "focal":
		out, err = focal.Focal(ctx, in, action.Stat, action.Width)
	case "reproject":
		if action.CRS == "" {
			return fmt.Errorf("reproject needs a target crs")
		}
		out, err = projection.Reproject(ctx, in, action.CRS)
	}
	if err != nil {
		return fmt.Errorf("operation %s failed: %v", action.Operation, err)
	}

	return sendRaster(ctx, stream, out)
}

// receiveRaster collects the incoming record batches into a Raster,
// spilling to parquet when the stream grows past the row threshold.
func (s *GridFlightServer) receiveRaster(stream flight.FlightService_DoExchangeServer) (*raster.Raster, error) {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	handler, err := NewParquetBatchHandler()
	if err != nil {
		return nil, fmt.Errorf("failed to create batch handler: %v", err)
	}

	var records []arrow.RecordBatch
	var totalRows int64
	const maxBatchRows = 1000 * 1000

	spill := func() error {
		for _, r := range records {
			if err := handler.AddRecordBatch(r); err != nil {
				return fmt.Errorf("failed to write record batch to parquet: %v", err)
			}
			r.Release()
		}
		records = nil
		totalRows = 0
		return nil
	}

	for reader.Next() {
		rec := reader.RecordBatch()
		rec.Retain()
		records = append(records, rec)
		totalRows += rec.NumRows()

		if totalRows >= maxBatchRows {
			log.Printf("Stream at %d buffered rows, spilling to parquet", totalRows)
			if err := spill(); err != nil {
				handler.Cleanup()
				return nil, err
			}
		}
	}
	if err := reader.Err(); err != nil {
		handler.Cleanup()
		return nil, err
	}

	if len(handler.currentFiles) > 0 {
		if err := spill(); err != nil {
			handler.Cleanup()
			return nil, err
		}
		mergedPath, err := handler.MergeParquetFiles()
		if err != nil {
			handler.Cleanup()
			return nil, fmt.Errorf("failed to merge parquet files: %v", err)
		}
		r, err := raster.Open(mergedPath)
		handler.Cleanup()
		if err != nil {
			return nil, fmt.Errorf("error reading spilled raster: %v", err)
		}
		return r, nil
	}
	defer handler.Cleanup()

	if len(records) == 0 {
		return nil, fmt.Errorf("no records received")
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()
	return raster.FromRecordBatches(records)
}

// DoGet streams the latest catalog version of the dataset named by the
// ticket.
func (s *GridFlightServer) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	name := string(ticket.Ticket)
	if name == "" {
		return fmt.Errorf("empty ticket")
	}

	ctx := stream.Context()
	r, err := s.repo.GetLatest(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load dataset %q: %v", name, err)
	}
	defer r.Close()

	return sendRaster(ctx, stream, r)
}

// GetFlightInfo describes a catalog dataset without streaming it.
func (s *GridFlightServer) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	if len(desc.Path) == 0 {
		return nil, fmt.Errorf("descriptor needs a dataset path")
	}
	name := desc.Path[0]
	_, version, err := s.repo.LatestFile(ctx, name)
	if err != nil {
		return nil, err
	}

	return &flight.FlightInfo{
		FlightDescriptor: desc,
		Endpoint: []*flight.FlightEndpoint{{
			Ticket: &flight.Ticket{Ticket: []byte(name)},
		}},
		TotalRecords: -1,
		TotalBytes:   -1,
		AppMetadata:  []byte(fmt.Sprintf(`{"version":%d}`, version)),
	}, nil
}

// ListFlights enumerates the datasets with an active catalog version.
func (s *GridFlightServer) ListFlights(_ *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	names, err := s.repo.ListDatasets(stream.Context())
	if err != nil {
		return err
	}
	for _, name := range names {
		info := &flight.FlightInfo{
			FlightDescriptor: &flight.FlightDescriptor{
				Type: flight.DescriptorPATH,
				Path: []string{name},
			},
			Endpoint: []*flight.FlightEndpoint{{
				Ticket: &flight.Ticket{Ticket: []byte(name)},
			}},
			TotalRecords: -1,
			TotalBytes:   -1,
		}
		if err := stream.Send(info); err != nil {
			return err
		}
	}
	return nil
}

// flightDataStream is the send side shared by DoGet and DoExchange.
type flightDataStream interface {
	Send(*flight.FlightData) error
}

func sendRaster(ctx context.Context, stream flightDataStream, r *raster.Raster) error {
	recs, err := r.ToRecordBatches(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(recs[0].Schema()))
	defer writer.Close()

	for _, rec := range recs {
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
