package xmds

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const envelopeHead = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"
 xmlns:soapenc="http://schemas.xmlsoap.org/soap/encoding/"
 xmlns:tns="urn:xmds" xmlns:types="urn:xmds/encodedTypes"
 xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
 xmlns:xsd="http://www.w3.org/2001/XMLSchema">
<soap:Body soap:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
`

const envelopeTail = `
</soap:Body>
</soap:Envelope>`

var errMalformed = errors.New("malformed SOAP response")

type param struct {
	name    string
	xsdType string
	value   string
}

func stringParam(name, value string) param {
	return param{name: name, xsdType: "xsd:string", value: value}
}

func intParam(name string, value int64) param {
	return param{name: name, xsdType: "xsd:int", value: strconv.FormatInt(value, 10)}
}

func doubleParam(name string, value int64) param {
	return param{name: name, xsdType: "xsd:double", value: strconv.FormatInt(value, 10)}
}

func base64Param(name string, value []byte) param {
	return param{name: name, xsdType: "xsd:base64Binary", value: base64.StdEncoding.EncodeToString(value)}
}

func encodeEnvelope(call string, params []param) []byte {
	var b bytes.Buffer
	b.WriteString(envelopeHead)
	fmt.Fprintf(&b, "<tns:%s>", call)
	for _, p := range params {
		fmt.Fprintf(&b, `<%s xsi:type="%s">`, p.name, p.xsdType)
		_ = xml.EscapeText(&b, []byte(p.value))
		fmt.Fprintf(&b, "</%s>", p.name)
	}
	fmt.Fprintf(&b, "</tns:%s>", call)
	b.WriteString(envelopeTail)
	return b.Bytes()
}

// node is a generic XML element used for SOAP bodies and the documents
// embedded in them.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func parseNode(doc string) (node, error) {
	var n node
	if err := xml.Unmarshal([]byte(doc), &n); err != nil {
		return node{}, err
	}
	return n, nil
}

func (n node) child(name string) (node, bool) {
	for _, c := range n.Nodes {
		if c.XMLName.Local == name {
			return c, true
		}
	}
	return node{}, false
}

func (n node) children(name string) []node {
	var out []node
	for _, c := range n.Nodes {
		if c.XMLName.Local == name {
			out = append(out, c)
		}
	}
	return out
}

func (n node) attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (n node) text(name string) (string, error) {
	c, ok := n.child(name)
	if !ok {
		return "", fmt.Errorf("missing %s", name)
	}
	return c.Text, nil
}

func (n node) intAttr(name string) (int64, error) {
	raw, ok := n.attr(name)
	if !ok {
		return 0, fmt.Errorf("missing attribute %s", name)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", name, err)
	}
	return v, nil
}

type soapEnvelope struct {
	Body struct {
		Nodes []node `xml:",any"`
	} `xml:"Body"`
}

// decodeEnvelope returns the <call>Response element, or the fault string
// when the body holds a SOAP fault.
func decodeEnvelope(call string, body []byte) (node, string, error) {
	var env soapEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return node{}, "", fmt.Errorf("%w: %v", errMalformed, err)
	}
	if len(env.Body.Nodes) == 0 {
		return node{}, "", fmt.Errorf("%w: empty body", errMalformed)
	}
	first := env.Body.Nodes[0]
	switch first.XMLName.Local {
	case call + "Response":
		return first, "", nil
	case "Fault":
		fault, err := first.text("faultstring")
		if err != nil || strings.TrimSpace(fault) == "" {
			fault = "no fault string"
		}
		return node{}, strings.TrimSpace(fault), nil
	default:
		return node{}, "", fmt.Errorf("%w: unexpected element %s", errMalformed, first.XMLName.Local)
	}
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true":
		return true, nil
	case "0", "false", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func decodeBase64(raw string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(raw), ""))
}
