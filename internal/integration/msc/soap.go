package msc

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"

	"carrierlink/internal/integration"
)

const (
	soapNS    = "http://schemas.xmlsoap.org/soap/envelope/"
	mscNS     = "http://www.msc.com/services"
	wsseNS    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	soapPath  = "/MSCServices"
	soapCType = "text/xml; charset=utf-8"
)

type envelope struct {
	XMLName xml.Name   `xml:"soap:Envelope"`
	Soap    string     `xml:"xmlns:soap,attr"`
	MSC     string     `xml:"xmlns:msc,attr"`
	Header  soapHeader `xml:"soap:Header"`
	Body    soapBody   `xml:"soap:Body"`
}

type soapHeader struct {
	Security security `xml:"wsse:Security"`
}

type security struct {
	NS            string        `xml:"xmlns:wsse,attr"`
	UsernameToken usernameToken `xml:"wsse:UsernameToken"`
}

type usernameToken struct {
	Username string `xml:"wsse:Username"`
	Password string `xml:"wsse:Password"`
}

type soapBody struct {
	Content any
}

type trackContainer struct {
	XMLName xml.Name `xml:"msc:TrackContainer"`
	Request struct {
		AccountNumber   string `xml:"msc:AccountNumber"`
		ContainerNumber string `xml:"msc:ContainerNumber"`
		IncludeHistory  bool   `xml:"msc:IncludeHistory"`
	} `xml:"msc:ContainerTrackingRequest"`
}

type trackMultipleContainers struct {
	XMLName xml.Name `xml:"msc:TrackMultipleContainers"`
	Request struct {
		AccountNumber    string   `xml:"msc:AccountNumber"`
		ContainerNumbers []string `xml:"msc:ContainerNumbers>msc:ContainerNumber"`
	} `xml:"msc:MultipleContainerTrackingRequest"`
}

type getVesselSchedule struct {
	XMLName xml.Name `xml:"msc:GetVesselSchedule"`
	Request struct {
		VesselName   string `xml:"msc:VesselName"`
		VoyageNumber string `xml:"msc:VoyageNumber,omitempty"`
	} `xml:"msc:VesselScheduleRequest"`
}

type getBillOfLading struct {
	XMLName xml.Name `xml:"msc:GetBillOfLading"`
	Request struct {
		AccountNumber string `xml:"msc:AccountNumber"`
		BLNumber      string `xml:"msc:BLNumber"`
		Format        string `xml:"msc:Format"`
	} `xml:"msc:BillOfLadingRequest"`
}

func (c *Connector) envelope(content any) ([]byte, error) {
	creds := c.Config().Credentials
	env := envelope{
		Soap: soapNS,
		MSC:  mscNS,
		Header: soapHeader{Security: security{
			NS:            wsseNS,
			UsernameToken: usernameToken{Username: creds.Username, Password: creds.Password},
		}},
		Body: soapBody{Content: content},
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// soapCall posts an operation envelope and returns the <op>Response element.
func (c *Connector) soapCall(ctx context.Context, op string, content any) (map[string]any, error) {
	body, err := c.envelope(content)
	if err != nil {
		return nil, c.OpErr(op, err)
	}
	resp, err := c.Call(ctx, op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(soapPath, nil), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", soapCType)
		req.Header.Set("Accept", "text/xml")
		req.Header.Set("SOAPAction", mscNS+"/"+op)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	doc, err := integration.DecodeXML(resp.Body, false)
	if err != nil {
		return nil, c.OpErr(op, err)
	}
	env, _ := doc["Envelope"].(map[string]any)
	soapBody, _ := env["Body"].(map[string]any)
	if fault, ok := soapBody["Fault"].(map[string]any); ok {
		return nil, c.OpErr(op, fmt.Errorf("%w: soap fault: %s", integration.ErrClient, integration.String(fault, "faultstring")))
	}
	result, ok := soapBody[op+"Response"].(map[string]any)
	if !ok {
		return nil, c.OpErr(op, fmt.Errorf("%w: missing %sResponse", integration.ErrNotFound, op))
	}
	if inner, ok := result[op+"Result"].(map[string]any); ok {
		return inner, nil
	}
	return result, nil
}
