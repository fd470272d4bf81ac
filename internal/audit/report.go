package audit

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"unicode"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
)

// Subject is one decrypted credential under analysis.
type Subject struct {
	ID       string
	Title    string
	Username string
	Website  string
	Password string
}

// Group is a set of subjects sharing a password or a site. Key is the
// normalized site, or a short fingerprint for password groups.
type Group struct {
	Key      string
	Subjects []Subject
}

type Breach struct {
	Subject Subject
	Count   int
}

// TwoFactorFinding is an entry whose site has a registrable domain.
// Supported findings are actionable: the site offers a second factor.
type TwoFactorFinding struct {
	Subject   Subject
	Domain    string
	Supported bool
}

type Strength int

const (
	Weak Strength = iota
	Medium
	Strong
	VeryStrong
)

type Distribution struct {
	Weak       int
	Medium     int
	Strong     int
	VeryStrong int
}

func (d *Distribution) add(s Strength) {
	switch s {
	case Weak:
		d.Weak++
	case Medium:
		d.Medium++
	case Strong:
		d.Strong++
	default:
		d.VeryStrong++
	}
}

// Report holds whatever stages completed. Failed is zero when all ran.
type Report struct {
	DuplicatePasswords []Group
	DuplicateSites     []Group
	Breached           []Breach
	TwoFactor          []TwoFactorFinding
	Strength           Distribution
	Completed          []Stage
	Failed             Stage
	Score              int
}

// ScoreOf condenses r into 0..100; every finding costs points.
func ScoreOf(r *Report) int {
	penalty := 0
	for _, g := range r.DuplicatePasswords {
		penalty += (len(g.Subjects) - 1) * 6
	}
	for _, g := range r.DuplicateSites {
		penalty += (len(g.Subjects) - 1) * 2
	}
	for _, f := range r.TwoFactor {
		if f.Supported {
			penalty += 2
		}
	}
	penalty += r.Strength.Weak*4 + r.Strength.Medium*2
	penalty += len(r.Breached) * 10
	return min(max(100-penalty, 0), 100)
}

// StrengthOf buckets a password by length and character classes.
func StrengthOf(password string) Strength {
	var lower, upper, digit, other bool
	n := 0
	for _, r := range password {
		n++
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}
	classes := 0
	for _, ok := range []bool{lower, upper, digit, other} {
		if ok {
			classes++
		}
	}

	points := 0
	switch {
	case n >= 16:
		points += 3
	case n >= 12:
		points += 2
	case n >= 8:
		points++
	}
	if classes >= 3 {
		points++
	}
	if classes == 4 {
		points++
	}

	switch {
	case n < 8 || points <= 1:
		return Weak
	case points == 2:
		return Medium
	case points == 3:
		return Strong
	default:
		return VeryStrong
	}
}

func passwordGroups(subjects []Subject) ([]Group, Distribution) {
	var dist Distribution
	byHash := make(map[string][]Subject)
	var order []string
	for _, s := range subjects {
		if s.Password == "" {
			continue
		}
		dist.add(StrengthOf(s.Password))
		sum := sha256.Sum256([]byte(s.Password))
		h := hex.EncodeToString(sum[:])
		if _, ok := byHash[h]; !ok {
			order = append(order, h)
		}
		byHash[h] = append(byHash[h], s)
	}

	var groups []Group
	for _, h := range order {
		if len(byHash[h]) > 1 {
			groups = append(groups, Group{Key: h[:8], Subjects: byHash[h]})
		}
	}
	sortGroups(groups)
	return groups, dist
}

func siteGroups(subjects []Subject) []Group {
	bySite := make(map[string][]Subject)
	var order []string
	for _, s := range subjects {
		site := models.NormalizeWebsite(s.Website)
		if site == "" {
			continue
		}
		if _, ok := bySite[site]; !ok {
			order = append(order, site)
		}
		bySite[site] = append(bySite[site], s)
	}

	var groups []Group
	for _, site := range order {
		if len(bySite[site]) > 1 {
			groups = append(groups, Group{Key: site, Subjects: bySite[site]})
		}
	}
	sortGroups(groups)
	return groups
}

// sortGroups orders by size descending, then key.
func sortGroups(groups []Group) {
	slices.SortStableFunc(groups, func(a, b Group) int {
		if c := cmp.Compare(len(b.Subjects), len(a.Subjects)); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
}
