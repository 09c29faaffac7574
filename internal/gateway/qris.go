package gateway

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// EMVCo merchant-presented QR tags used by QRIS.
const (
	tagPayloadFormat   = "00"
	tagInitiation      = "01"
	tagMerchantAccount = "26"
	tagCategoryCode    = "52"
	tagCurrency        = "53"
	tagAmount          = "54"
	tagCountry         = "58"
	tagMerchantName    = "59"
	tagMerchantCity    = "60"
	tagAdditionalData  = "62"
	tagCRC             = "63"

	initiationStatic  = "11"
	initiationDynamic = "12"
	qrisDomain        = "ID.CO.QRIS.WWW"
	currencyIDR       = "360"
)

var errMalformedQRIS = errors.New("malformed qris payload")

type tlv struct {
	tag   string
	value string
}

func (t tlv) encode() string {
	return fmt.Sprintf("%s%02d%s", t.tag, len(t.value), t.value)
}

func encodeTLVs(fields []tlv) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f.encode())
	}
	return b.String()
}

func parseTLVs(payload string) ([]tlv, error) {
	out := make([]tlv, 0, 16)
	for i := 0; i < len(payload); {
		if i+4 > len(payload) {
			return nil, errMalformedQRIS
		}
		tag := payload[i : i+2]
		n, err := strconv.Atoi(payload[i+2 : i+4])
		if err != nil || i+4+n > len(payload) {
			return nil, errMalformedQRIS
		}
		out = append(out, tlv{tag: tag, value: payload[i+4 : i+4+n]})
		i += 4 + n
	}
	return out, nil
}

// CRC16 is CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF), the checksum QRIS
// puts in tag 63.
func CRC16(data string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(data); i++ {
		crc ^= uint16(data[i]) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// withCRC appends tag 63 with the checksum computed over the payload and the
// tag header itself.
func withCRC(payload string) string {
	payload += tagCRC + "04"
	return payload + fmt.Sprintf("%04X", CRC16(payload))
}

// ValidQRIS reports whether payload parses as TLV and its CRC matches.
func ValidQRIS(payload string) bool {
	if len(payload) < 8 || payload[len(payload)-8:len(payload)-4] != tagCRC+"04" {
		return false
	}
	if _, err := parseTLVs(payload); err != nil {
		return false
	}
	want := fmt.Sprintf("%04X", CRC16(payload[:len(payload)-4]))
	return strings.EqualFold(payload[len(payload)-4:], want)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}

// BuildDynamicQRIS renders a dynamic QRIS payload carrying the amount and the
// payment reference as the bill number.
func BuildDynamicQRIS(merchantName, merchantCity, merchantID string, amount int64, reference string) string {
	if merchantID == "" {
		merchantID = "ID" + fmt.Sprintf("%013d", CRC16(merchantName))
	}
	account := encodeTLVs([]tlv{
		{tag: "00", value: qrisDomain},
		{tag: "02", value: truncate(merchantID, 15)},
		{tag: "03", value: "UMI"},
	})
	fields := []tlv{
		{tag: tagPayloadFormat, value: "01"},
		{tag: tagInitiation, value: initiationDynamic},
		{tag: tagMerchantAccount, value: account},
		{tag: tagCategoryCode, value: "5999"},
		{tag: tagCurrency, value: currencyIDR},
		{tag: tagAmount, value: strconv.FormatInt(amount, 10)},
		{tag: tagCountry, value: "ID"},
		{tag: tagMerchantName, value: truncate(strings.ToUpper(merchantName), 25)},
		{tag: tagMerchantCity, value: truncate(strings.ToUpper(merchantCity), 15)},
	}
	if reference != "" {
		fields = append(fields, tlv{tag: tagAdditionalData, value: tlv{tag: "01", value: truncate(reference, 25)}.encode()})
	}
	return withCRC(encodeTLVs(fields))
}

// StaticToDynamic turns a merchant's printed static QRIS into a dynamic one
// for a fixed amount: initiation becomes 12, tag 54 is set, the CRC is
// recomputed.
func StaticToDynamic(static string, amount int64) (string, error) {
	static = strings.TrimSpace(static)
	if !ValidQRIS(static) {
		return "", errMalformedQRIS
	}
	fields, err := parseTLVs(static)
	if err != nil {
		return "", err
	}
	out := make([]tlv, 0, len(fields)+1)
	for _, f := range fields {
		switch f.tag {
		case tagCRC, tagAmount:
			continue
		case tagInitiation:
			f.value = initiationDynamic
		}
		out = append(out, f)
	}
	out = append(out, tlv{tag: tagAmount, value: strconv.FormatInt(amount, 10)})
	sort.SliceStable(out, func(i, j int) bool { return out[i].tag < out[j].tag })
	return withCRC(encodeTLVs(out)), nil
}

// QRDataURL renders content as a PNG data URL for direct use in an <img>.
func QRDataURL(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
