package lab

import (
	"encoding/xml"
	"strings"
)

const (
	nsSOAPEnv = "http://schemas.xmlsoap.org/soap/envelope/"
	nsWS      = "http://ws.ots.labcorp.com"
	nsData    = "http://data.ws.ots.labcorp.com"
	nsWeb     = "http://webservice.labcorp.com"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

// EscapeXML escapes the five XML special characters.
func EscapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

type field struct {
	name, value string
}

func writeElem(sb *strings.Builder, indent, prefix, name, value string) {
	sb.WriteString(indent)
	sb.WriteString("<" + prefix + ":" + name + ">")
	sb.WriteString(EscapeXML(value))
	sb.WriteString("</" + prefix + ":" + name + ">\n")
}

func registerDonorEnvelope(userID, password string, fields []field) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	sb.WriteString(`<soapenv:Envelope xmlns:soapenv="` + nsSOAPEnv + `" xmlns:ws="` + nsWS + `" xmlns:data="` + nsData + `">` + "\n")
	sb.WriteString("  <soapenv:Header/>\n  <soapenv:Body>\n    <ws:registerDonor>\n")
	writeElem(&sb, "      ", "ws", "userId", userID)
	writeElem(&sb, "      ", "ws", "password", password)
	sb.WriteString("      <ws:registration>\n")
	for _, f := range fields {
		writeElem(&sb, "        ", "data", f.name, f.value)
	}
	sb.WriteString("      </ws:registration>\n    </ws:registerDonor>\n  </soapenv:Body>\n</soapenv:Envelope>")
	return sb.String()
}

func locateSitesEnvelope(userID, password string, fields []field) string {
	var sb strings.Builder
	sb.WriteString(`<soapenv:Envelope xmlns:soapenv="` + nsSOAPEnv + `" xmlns:web="` + nsWeb + `">` + "\n")
	sb.WriteString("  <soapenv:Header/>\n  <soapenv:Body>\n    <web:locateCollectionSites>\n")
	for _, f := range append([]field{{"userId", userID}, {"password", password}}, fields...) {
		sb.WriteString("      <" + f.name + ">" + EscapeXML(f.value) + "</" + f.name + ">\n")
	}
	sb.WriteString("    </web:locateCollectionSites>\n  </soapenv:Body>\n</soapenv:Envelope>")
	return sb.String()
}

// Response shapes. Tags carry local names only, so any namespace prefix
// the service chooses is accepted.

type responseEnvelope struct {
	XMLName xml.Name     `xml:"Envelope"`
	Body    responseBody `xml:"Body"`
}

type responseBody struct {
	Fault    *soapFault        `xml:"Fault"`
	Register *registerResponse `xml:"registerDonorResponse"`
	Locate   *locateResponse   `xml:"locateCollectionSitesResponse"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail struct {
		Description string `xml:"WsException>errors>errorDescription"`
		Element     string `xml:"WsException>errors>errorElement"`
	} `xml:"detail"`
}

type registerResponse struct {
	Return struct {
		RegistrationNumber string `xml:"labcorpRegistrationNumber"`
	} `xml:"registerDonorReturn"`
}

type locateResponse struct {
	Sites []siteXML `xml:"locateCollectionSitesReturn"`
}

type siteXML struct {
	ID       string `xml:"collectionSiteId"`
	Name     string `xml:"collectionSiteName"`
	Address1 string `xml:"address1"`
	Address2 string `xml:"address2"`
	City     string `xml:"city"`
	State    string `xml:"state"`
	Zip      string `xml:"zip"`
	Distance string `xml:"distance"`
	Phone    struct {
		CountryCode string `xml:"countryCode"`
		AreaCode    string `xml:"areaCode"`
		Exchange    string `xml:"exchange"`
		Station     string `xml:"station"`
		Extension   string `xml:"extension"`
	} `xml:"phoneNumber"`
}
