package enum

type Disposition string

const (
	DispositionNone       Disposition = "none"
	DispositionQuarantine Disposition = "quarantine"
	DispositionReject     Disposition = "reject"
)

func (t Disposition) String() string {
	return string(t)
}

// DmarcResult is the policy-evaluated pass/fail verdict. It is derived
// strictly from <policy_evaluated>, never from raw auth sub-results.
type DmarcResult string

const (
	DmarcPass DmarcResult = "pass"
	DmarcFail DmarcResult = "fail"
)

func (t DmarcResult) String() string {
	return string(t)
}

// AuthResultKind distinguishes the raw auth sub-result rows.
type AuthResultKind string

const (
	AuthResultDkim AuthResultKind = "dkim"
	AuthResultSpf  AuthResultKind = "spf"
)

func (t AuthResultKind) String() string {
	return string(t)
}
