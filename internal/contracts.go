package internal

import (
	"regexp"
	"strings"
	"time"
)

// ContractKind tipo de acuerdo registrado en el texto libre de contratos.
type ContractKind string

const (
	ContractSigned ContractKind = "CONTRACT"
	ContractOffer  ContractKind = "OFFER"
)

// ContractRecord acuerdo parseado desde el campo de contratos de una empresa.
type ContractRecord struct {
	Kind     ContractKind
	Number   string
	SignedAt time.Time // cero si la fecha no aparece o no parsea
	Firm     string    // nombre de la firma contraparte, tal como aparece
}

// contractLineRe reconoce entradas del tipo:
//
//	Contract No. 123/2024 dated 15.03.2024 - Boel Trade LLC
//	offer №7 - Severstal
//	Contract 55 dated 01.02.2023: OOO "Romashka"
var contractLineRe = regexp.MustCompile(
	`(?i)\b(contract|offer)\b\s*(?:no\.?|№|#)?\s*([0-9][\w./-]*)?` +
		`(?:\s+dated\s+(\d{2}\.\d{2}\.\d{4}))?\s*[-–:]\s*(.+?)\s*$`,
)

const contractDateLayout = "02.01.2006"

// ParseContracts extrae los acuerdos de un campo de contratos de texto libre.
// Las entradas se separan por saltos de línea o punto y coma; las líneas que
// no matchean se ignoran. Parser puro: sin I/O.
func ParseContracts(text string) []ContractRecord {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var records []ContractRecord
	for _, line := range splitContractEntries(text) {
		m := contractLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		record := ContractRecord{
			Kind:   ContractSigned,
			Number: m[2],
			Firm:   strings.TrimSpace(m[4]),
		}
		if strings.EqualFold(m[1], "offer") {
			record.Kind = ContractOffer
		}
		if m[3] != "" {
			if signed, err := time.Parse(contractDateLayout, m[3]); err == nil {
				record.SignedAt = signed
			}
		}
		if record.Firm == "" {
			continue
		}
		records = append(records, record)
	}
	return records
}

func splitContractEntries(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ';'
	})
}

// MatchesFirm compara el nombre de la firma contraparte con el nombre dado,
// ignorando mayúsculas, comillas y formas legales (LLC, Ltd, OOO...).
func (r ContractRecord) MatchesFirm(name string) bool {
	return normalizeFirm(r.Firm) == normalizeFirm(name) && normalizeFirm(name) != ""
}

// FindAgreement busca en el texto de contratos un acuerdo del tipo dado con la
// firma dada.
func FindAgreement(text, firm string, kind ContractKind) (ContractRecord, bool) {
	for _, record := range ParseContracts(text) {
		if record.Kind == kind && record.MatchesFirm(firm) {
			return record, true
		}
	}
	return ContractRecord{}, false
}

// legalForms sufijos/prefijos societarios que no distinguen a la firma.
var legalForms = map[string]struct{}{
	"llc": {}, "ltd": {}, "inc": {}, "jsc": {}, "gmbh": {},
	"ooo": {}, "oao": {}, "zao": {}, "pao": {}, "ip": {},
}

var firmQuoteReplacer = strings.NewReplacer(
	`"`, " ", "'", " ", "«", " ", "»", " ", "“", " ", "”", " ",
)

func normalizeFirm(name string) string {
	cleaned := firmQuoteReplacer.Replace(strings.ToLower(name))
	words := strings.Fields(cleaned)
	kept := words[:0]
	for _, word := range words {
		word = strings.Trim(word, ".,")
		if _, legal := legalForms[word]; legal || word == "" {
			continue
		}
		kept = append(kept, word)
	}
	return strings.Join(kept, " ")
}
