package clients

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sbilibin2017/cbr-rates-loader/internal/logger"
	"github.com/sbilibin2017/cbr-rates-loader/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrTransport is returned when the CBR endpoint cannot be reached
	// or responds with a non-success HTTP status.
	ErrTransport = errors.New("cbr transport failure")
	// ErrProtocol is returned when the response body is not the expected
	// GetCursOnDateXML SOAP shape.
	ErrProtocol = errors.New("cbr protocol failure")
)

const (
	soapAction     = `"http://web.cbr.ru/GetCursOnDateXML"`
	contentType    = "text/xml; charset=utf-8"
	userAgent      = "cbr-rates-loader/1.0"
	defaultTimeout = 30 * time.Second

	// On_date is xsd:dateTime; the CBR service accepts a local date/time
	// without an explicit zone.
	onDateLayout = "2006-01-02T15:04:05"

	envelopeTemplate = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
               xmlns:xsd="http://www.w3.org/2001/XMLSchema"
               xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <GetCursOnDateXML xmlns="http://web.cbr.ru/">
      <On_date>%s</On_date>
    </GetCursOnDateXML>
  </soap:Body>
</soap:Envelope>`
)

// CBRClient fetches official daily rates from the CBR SOAP service
// (GetCursOnDateXML operation of DailyInfo.asmx).
type CBRClient struct {
	endpoint string
	client   *http.Client
}

// NewCBRClient creates a client for the given endpoint. A nil httpClient
// gets a default one with a 30s timeout.
func NewCBRClient(endpoint string, httpClient *http.Client) *CBRClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &CBRClient{endpoint: endpoint, client: httpClient}
}

// GetRatesOnDate fetches every published rate for the given calendar date.
// Dates with no published rates (holidays) yield an empty slice and no error.
func (c *CBRClient) GetRatesOnDate(ctx context.Context, date time.Time) ([]models.RateRecord, error) {
	envelope := fmt.Sprintf(envelopeTemplate, models.DateOnly(date).Format(onDateLayout))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("SOAPAction", soapAction)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Log.Errorw("CBR responded with non-success status",
			"status", resp.StatusCode, "date", date.Format("2006-01-02"))
		return nil, fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
	}

	records, err := parseGetCursOnDateResponse(body)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		logger.Log.Warnw("CBR returned zero currencies", "date", date.Format("2006-01-02"))
	}

	return records, nil
}

// parseGetCursOnDateResponse extracts RateRecords from a SOAP response body.
func parseGetCursOnDateResponse(body []byte) ([]models.RateRecord, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: GetCursOnDateXMLResult element not found", ErrProtocol)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed SOAP response: %v", ErrProtocol, err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "GetCursOnDateXMLResult" {
			continue
		}

		var result struct {
			Inner string `xml:",innerxml"`
		}
		if err := dec.DecodeElement(&result, &se); err != nil {
			return nil, fmt.Errorf("%w: decoding result element: %v", ErrProtocol, err)
		}
		return parseValuteData(result.Inner)
	}
}

// valuteData mirrors <ValuteData><ValuteCursOnDate>...</ValuteCursOnDate></ValuteData>.
type valuteData struct {
	XMLName xml.Name
	OnDate  string             `xml:"OnDate,attr"`
	Items   []valuteCursOnDate `xml:"ValuteCursOnDate"`
}

type valuteCursOnDate struct {
	Vname   string `xml:"Vname"`
	Vnom    string `xml:"Vnom"`
	Vcurs   string `xml:"Vcurs"`
	Vcode   string `xml:"Vcode"`
	VchCode string `xml:"VchCode"`
}

// parseValuteData handles both result payload variants: nested XML
// elements, or an XML document escaped into a string.
func parseValuteData(inner string) ([]models.RateRecord, error) {
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return nil, fmt.Errorf("%w: result element is empty", ErrProtocol)
	}

	if !strings.HasPrefix(inner, "<") {
		var unescaped struct {
			Text string `xml:",chardata"`
		}
		if err := xml.Unmarshal([]byte("<v>"+inner+"</v>"), &unescaped); err != nil {
			return nil, fmt.Errorf("%w: unescaping result payload: %v", ErrProtocol, err)
		}
		inner = strings.TrimSpace(unescaped.Text)
		if !strings.HasPrefix(inner, "<") {
			return nil, fmt.Errorf("%w: result does not contain XML", ErrProtocol)
		}
	}

	var data valuteData
	if err := xml.Unmarshal([]byte(inner), &data); err != nil {
		return nil, fmt.Errorf("%w: parsing ValuteData: %v", ErrProtocol, err)
	}

	records := make([]models.RateRecord, 0, len(data.Items))
	for _, item := range data.Items {
		records = append(records, models.RateRecord{
			CBRCode:  parseInt(item.Vcode),
			CharCode: strings.TrimSpace(item.VchCode),
			Name:     strings.TrimSpace(item.Vname),
			Nominal:  parseInt(item.Vnom),
			Value:    ParseRuDecimal(item.Vcurs),
		})
	}
	return records, nil
}

// parseInt parses an integer field, defaulting to 0 on any failure.
func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// ParseRuDecimal parses a ru-RU formatted decimal where the fractional
// separator is a comma (e.g. "92,3456"). Malformed values default to zero
// so one bad field never aborts a whole batch.
func ParseRuDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
