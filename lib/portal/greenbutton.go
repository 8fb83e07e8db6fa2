package portal

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
)

// interval lengths the export endpoint accepts
const (
	GreenButtonMonthly = "MONTHLY"
	GreenButtonDaily   = "DAILY"
)

// the export endpoint encodes everything in the path, dates as
// MM-DD-YYYY
const greenButtonPath = "/cassandra/getfile/period/custom" +
	"/start_date/%s/to_date/%s/format/xml/fuel_type/E" +
	"/backup_meter_id_owh/%s/from_usage/1/interval_length/%s"

// FetchGreenButtonXML downloads the portal's Green Button (ESPI XML)
// export for the date range. intervalLength is GreenButtonMonthly or
// GreenButtonDaily.
func (c *Client) FetchGreenButtonXML(ctx context.Context, start, end time.Time, intervalLength string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "portal:FetchGreenButtonXML")
	defer span.End()

	if c.fuelType == "" {
		fuelType, err := c.DiscoverMeter(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to discover meter")
			return nil, err
		}
		c.fuelType = fuelType
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	path := fmt.Sprintf(greenButtonPath,
		start.Format("01-02-2006"),
		end.Format("01-02-2006"),
		c.meterID(),
		intervalLength,
	)
	res, err := c.Http.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, &FetchError{Reason: ReasonPortalUnavailable, Cause: err}
	}
	if err := classify(res); err != nil {
		return nil, err
	}

	body := res.Body()
	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("<?xml")) {
		if err := classifyBody(body); err != nil {
			return nil, err
		}
		return nil, &FetchError{
			Reason: ReasonUnparsableResponse,
			Cause:  fmt.Errorf("export endpoint served something other than xml"),
		}
	}
	return body, nil
}

// meterID is the bare meter identifier, the last segment of the
// composite fuel type ("E-AM12345678-<meter>")
func (c *Client) meterID() string {
	parts := strings.Split(c.fuelType, "-")
	return parts[len(parts)-1]
}
