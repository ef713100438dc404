package catalog

import (
	"context"

	"github.com/fyrsmithlabs/patternd/pkg/pattern"
)

// BuiltinVersion is the version of every bundled definition.
const BuiltinVersion = "1.0.0"

// Entity expressions shared by the relationship patterns below.
const (
	reCVE        = `(?i)\bCVE-\d{4}-\d{4,7}\b`
	reCWE        = `\bCWE-\d{1,4}\b`
	reGHSA       = `\bGHSA(?:-[23456789cfghjmpqrvwx]{4}){3}\b`
	reCVSS       = `\bCVSS(?:v[234](?:\.\d)?)?:?\s+\d{1,2}\.\d\b`
	reTechnique  = `\bT1\d{3}(?:\.\d{3})?\b`
	reRegulation = `\b(?:GDPR|HIPAA|SOX|PCI[- ]DSS|CCPA|FedRAMP|NIS2|DORA)\b`
	reArticle    = `\bArticle\s+\d{1,3}(?:\(\d{1,2}\))?`
	reNISTCtl    = `\b(?:AC|AT|AU|CA|CM|CP|IA|IR|MA|MP|PE|PL|PS|RA|SA|SC|SI|SR)-\d{1,2}(?:\(\d{1,2}\))?`
	reISOCtl     = `\bA\.\d{1,2}\.\d{1,2}(?:\.\d{1,2})?\b`
	reIPv4       = `\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`
	reHostname   = `\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+(?:com|net|org|io|dev|internal|local|cloud)\b`
	reARN        = `\barn:aws[a-z-]*:[a-z0-9-]+:[a-z0-9-]*:(?:\d{12})?:[A-Za-z0-9/_.:-]+`
)

// Builtin returns the bundled security, compliance, and infrastructure
// patterns. Every call returns fresh copies.
func Builtin() []pattern.Definition {
	defs := []pattern.Definition{
		// security
		entity("security", "cve", reCVE, "vulnerability", 0.90, pattern.PriorityHigh,
			"CVE identifier", []string{"CVE-2021-44228", "cve-2024-3094"}),
		entity("security", "cwe", reCWE, "weakness", 0.85, pattern.PriorityNormal,
			"CWE weakness identifier", []string{"CWE-79", "CWE-1321"}),
		entity("security", "ghsa", reGHSA, "advisory", 0.90, pattern.PriorityHigh,
			"GitHub security advisory identifier", []string{"GHSA-jfh8-c2jp-5v3q"}),
		entity("security", "cvss", reCVSS, "severity_score", 0.80, pattern.PriorityNormal,
			"CVSS base score", []string{"CVSS 9.8", "CVSSv3.1: 7.5"}),
		entity("security", "attack_technique", reTechnique, "attack_technique", 0.55, pattern.PriorityLow,
			"MITRE ATT&CK technique identifier", []string{"T1059", "T1566.001"}),
		relationship("security", "cve_classified_as", reCVE, `[^.\n]{0,80}?`, reCWE, "classified_as", 0.70,
			"vulnerability classified under a weakness", []string{"CVE-2021-44228 is a CWE-502"}),
		relationship("security", "advisory_references", reGHSA, `[^.\n]{0,80}?`, reCVE, "references", 0.70,
			"advisory tracking a CVE", []string{"GHSA-jfh8-c2jp-5v3q tracks CVE-2021-44228"}),

		// compliance
		entity("compliance", "regulation", reRegulation, "regulation", 0.85, pattern.PriorityHigh,
			"regulation or standard name", []string{"GDPR", "PCI-DSS", "HIPAA"}),
		entity("compliance", "article", reArticle, "regulation_article", 0.70, pattern.PriorityNormal,
			"article reference", []string{"Article 32", "Article 5(1)"}),
		entity("compliance", "nist_control", reNISTCtl, "control", 0.75, pattern.PriorityNormal,
			"NIST SP 800-53 control", []string{"AC-2", "SC-7(3)"}),
		entity("compliance", "iso_control", reISOCtl, "control", 0.65, pattern.PriorityNormal,
			"ISO/IEC 27001 Annex A control", []string{"A.9.2.3", "A.12.4"}),
		relationship("compliance", "article_of", reArticle, `\s+(?:of\s+(?:the\s+)?)?`, reRegulation, "part_of", 0.75,
			"article belonging to a regulation", []string{"Article 32 of the GDPR", "Article 17 GDPR"}),
		relationship("compliance", "control_maps_to", reNISTCtl, `\s+(?:maps to|satisfies|implements)\s+`, reISOCtl, "maps_to", 0.70,
			"control mapping between frameworks", []string{"AC-2 maps to A.9.2.1"}),

		// infrastructure
		entity("infrastructure", "ipv4", reIPv4, "ip_address", 0.75, pattern.PriorityNormal,
			"IPv4 address", []string{"10.0.0.12", "192.168.1.1"}),
		entity("infrastructure", "hostname", reHostname, "hostname", 0.60, pattern.PriorityLow,
			"fully qualified host name", []string{"api.example.com", "db-01.prod.internal"}),
		entity("infrastructure", "aws_arn", reARN, "cloud_resource", 0.85, pattern.PriorityHigh,
			"AWS resource name", []string{"arn:aws:s3:::audit-logs", "arn:aws:iam::123456789012:role/deploy"}),
		relationship("infrastructure", "resolves_to", reHostname, `\s+(?:resolves to|->|at)\s+`, reIPv4, "resolves_to", 0.70,
			"host name bound to an address", []string{"api.example.com resolves to 10.0.0.12"}),
	}
	for i := range defs {
		defs[i].ID = pattern.DeriveID(defs[i].Key())
	}
	return defs
}

func entity(domain, name, regex, output string, confidence float64, prio pattern.Priority, desc string, examples []string) pattern.Definition {
	return pattern.Definition{
		Domain:         domain,
		Name:           name,
		Category:       pattern.CategoryEntity,
		Regex:          regex,
		OutputType:     output,
		BaseConfidence: confidence,
		Priority:       prio,
		Version:        BuiltinVersion,
		Description:    desc,
		Examples:       examples,
	}
}

// relationship joins two entity expressions with sep into from/to groups.
func relationship(domain, name, from, sep, to, output string, confidence float64, desc string, examples []string) pattern.Definition {
	return pattern.Definition{
		Domain:         domain,
		Name:           name,
		Category:       pattern.CategoryRelationship,
		Regex:          `(?P<from>` + from + `)` + sep + `(?P<to>` + to + `)`,
		OutputType:     output,
		BaseConfidence: confidence,
		Version:        BuiltinVersion,
		Description:    desc,
		Examples:       examples,
	}
}

// BuiltinSource serves Builtin.
type BuiltinSource struct{}

func (BuiltinSource) Name() string { return "builtin" }

func (BuiltinSource) Definitions(context.Context) ([]pattern.Definition, error) {
	return Builtin(), nil
}
