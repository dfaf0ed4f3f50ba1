package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/webegress/gateway/internal/dnswire"
	"github.com/webegress/gateway/internal/httpapi/models"
)

const maxDoHPostBodyBytes = 8192

// DNSQueryGet godoc
// @Summary RFC 8484 DNS-over-HTTPS, GET form
// @Tags dns
// @Produce application/dns-message
// @Param dns query string true "base64url-encoded DNS wire message"
// @Success 200 {string} string
// @Router /dns-query [get]
func (h *Handler) DNSQueryGet(c *gin.Context) {
	raw, err := dnswire.ParseDohGetParam(c.Query("dns"), dnswire.DefaultMaxQueryBytes)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	h.serveDnsQuery(c, raw)
}

// DNSQueryPost godoc
// @Summary RFC 8484 DNS-over-HTTPS, POST form
// @Tags dns
// @Accept application/dns-message
// @Produce application/dns-message
// @Success 200 {string} string
// @Router /dns-query [post]
func (h *Handler) DNSQueryPost(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDoHPostBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to read request body"})
		return
	}
	if len(body) > maxDoHPostBodyBytes {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "request body too large"})
		return
	}
	h.serveDnsQuery(c, body)
}

func (h *Handler) serveDnsQuery(c *gin.Context, raw []byte) {
	result, err := h.Resolver.Resolve(c.Request.Context(), raw, clientIP(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	if h.Registry != nil {
		h.Registry.IncDNSQuery(result.Source, responseRCodeName(result.ResponseBytes))
	}
	c.Header("Content-Type", "application/dns-message")
	c.Data(http.StatusOK, "application/dns-message", result.ResponseBytes)
}

// DNSJSON godoc
// @Summary Google/Cloudflare-compatible JSON DNS lookup
// @Tags dns
// @Produce json
// @Param name query string true "query name"
// @Param type query string false "query type (A, AAAA, ...), default A"
// @Success 200 {object} models.DNSJSONResponse
// @Router /dns-json [get]
func (h *Handler) DNSJSON(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "missing name parameter"})
		return
	}
	qtype := c.DefaultQuery("type", "A")
	rtype, ok := dnsJSONTypeNames[qtype]
	if !ok {
		if n, err := strconv.Atoi(qtype); err == nil {
			rtype = dnswire.RecordType(n)
		} else {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "unsupported type parameter"})
			return
		}
	}

	query, err := dnswire.Packet{
		Header:    dnswire.Header{ID: 0, Flags: dnswire.RDFlag, QDCount: 1},
		Questions: []dnswire.Question{{Name: name, Type: uint16(rtype), Class: uint16(dnswire.ClassIN)}},
	}.Marshal()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	result, err := h.Resolver.Resolve(c.Request.Context(), query, clientIP(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	if h.Registry != nil {
		h.Registry.IncDNSQuery(result.Source, responseRCodeName(result.ResponseBytes))
	}

	resp, err := dnsJSONFromWire(result.ResponseBytes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

var dnsJSONTypeNames = map[string]dnswire.RecordType{
	"A":     dnswire.TypeA,
	"AAAA":  dnswire.TypeAAAA,
	"CNAME": dnswire.TypeCNAME,
	"MX":    dnswire.TypeMX,
	"NS":    dnswire.TypeNS,
	"PTR":   dnswire.TypePTR,
	"TXT":   dnswire.TypeTXT,
	"SRV":   dnswire.TypeSRV,
}

// dnsJSONFromWire converts a raw wire-format DNS response into the
// Google/Cloudflare-compatible JSON shape.
func dnsJSONFromWire(msg []byte) (models.DNSJSONResponse, error) {
	p, err := dnswire.ParsePacket(msg)
	if err != nil {
		return models.DNSJSONResponse{}, err
	}

	resp := models.DNSJSONResponse{
		Status: int(dnswire.RCodeFromFlags(p.Header.Flags)),
		TC:     p.Header.Flags&dnswire.TCFlag != 0,
		RD:     p.Header.Flags&dnswire.RDFlag != 0,
		RA:     p.Header.Flags&dnswire.RAFlag != 0,
		AD:     p.Header.Flags&dnswire.ADFlag != 0,
		CD:     p.Header.Flags&dnswire.CDFlag != 0,
	}
	for _, q := range p.Questions {
		resp.Question = append(resp.Question, models.DNSJSONQuestion{Name: q.Name, Type: int(q.Type)})
	}
	for _, rr := range p.Answers {
		resp.Answer = append(resp.Answer, models.DNSJSONAnswer{
			Name: rr.Name,
			Type: int(rr.Type),
			TTL:  rr.TTL,
			Data: recordDataString(rr),
		})
	}
	return resp, nil
}

func recordDataString(rr dnswire.Record) string {
	if ip, ok := rr.IPv4(); ok {
		return ip
	}
	if ip, ok := rr.IPv6(); ok {
		return ip
	}
	switch v := rr.Data.(type) {
	case string:
		return v
	case dnswire.MXData:
		return fmt.Sprintf("%d %s", v.Preference, v.Exchange)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// responseRCodeName names a raw wire response's RCODE for metrics labels.
func responseRCodeName(resp []byte) string {
	if len(resp) < 4 {
		return "UNKNOWN"
	}
	flags := uint16(resp[2])<<8 | uint16(resp[3])
	switch dnswire.RCodeFromFlags(flags) {
	case dnswire.RCodeNoError:
		return "NOERROR"
	case dnswire.RCodeFormErr:
		return "FORMERR"
	case dnswire.RCodeServFail:
		return "SERVFAIL"
	case dnswire.RCodeNXDomain:
		return "NXDOMAIN"
	case dnswire.RCodeNotImp:
		return "NOTIMP"
	case dnswire.RCodeRefused:
		return "REFUSED"
	default:
		return "UNKNOWN"
	}
}

func clientIP(c *gin.Context) string {
	return c.ClientIP()
}
