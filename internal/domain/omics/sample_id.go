package omics

import "strings"

// SampleIDLength is the barcode prefix length used as the cross-source join
// key. Sequencing-assay and clinical identifiers that differ only after this
// prefix refer to the same sample.
const SampleIDLength = 15

// NormalizeSampleID trims whitespace, uppercases and truncates raw to the
// first SampleIDLength characters. Shorter identifiers are kept as is.
func NormalizeSampleID(raw string) string {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if len(id) <= SampleIDLength {
		return id
	}
	r := []rune(id)
	if len(r) <= SampleIDLength {
		return id
	}
	return string(r[:SampleIDLength])
}
