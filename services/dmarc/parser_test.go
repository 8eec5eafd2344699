package dmarc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	er "github.com/customeros/dmarcwatch/internal/errors"
)

const snakeCaseFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feedback>
  <report_metadata>
    <org_name>google.com</org_name>
    <email>noreply-dmarc-support@google.com</email>
    <report_id>8295813562867402194</report_id>
    <date_range>
      <begin>1706227200</begin>
      <end>1706313599</end>
    </date_range>
  </report_metadata>
  <policy_published>
    <domain>example.com</domain>
    <adkim>r</adkim>
    <aspf>r</aspf>
    <p>quarantine</p>
    <sp>none</sp>
    <pct>100</pct>
  </policy_published>
  <record>
    <row>
      <source_ip>209.85.220.41</source_ip>
      <count>3</count>
      <policy_evaluated>
        <disposition>none</disposition>
        <dkim>pass</dkim>
        <spf>fail</spf>
        <reason>
          <type>forwarded</type>
          <comment>looks like a mailing list</comment>
        </reason>
      </policy_evaluated>
    </row>
    <identifiers>
      <header_from>example.com</header_from>
      <envelope_from>bounce.example.com</envelope_from>
    </identifiers>
    <auth_results>
      <dkim>
        <domain>example.com</domain>
        <selector>s1</selector>
        <result>pass</result>
      </dkim>
      <dkim>
        <domain>forwarder.net</domain>
        <result>pass</result>
      </dkim>
      <spf>
        <domain>forwarder.net</domain>
        <result>pass</result>
      </spf>
    </auth_results>
  </record>
</feedback>`

const camelCaseFeed = `<?xml version="1.0"?>
<feedback>
  <reportMetadata>
    <orgName>Outlook.com</orgName>
    <email>dmarcreport@microsoft.com</email>
    <reportId>d9f8a7b6</reportId>
    <dateRange>
      <begin>1706227200</begin>
      <end>1706313599</end>
    </dateRange>
  </reportMetadata>
  <policyPublished>
    <domain>Example.COM</domain>
    <p>reject</p>
  </policyPublished>
  <record>
    <row>
      <sourceIp>40.92.0.17</sourceIp>
      <count>1</count>
      <policyEvaluated>
        <disposition>reject</disposition>
        <dkim>fail</dkim>
        <spf>fail</spf>
      </policyEvaluated>
    </row>
    <identities>
      <headerFrom>EXAMPLE.com</headerFrom>
      <envelopeTo>victim.org</envelopeTo>
    </identities>
    <authResults>
      <spf>
        <domain>spammer.biz</domain>
        <result>fail</result>
        <humanResult>lookup timeout</humanResult>
      </spf>
    </authResults>
  </record>
</feedback>`

func TestParseFeed_SnakeCase(t *testing.T) {
	draft, err := ParseFeed(snakeCaseFeed)
	require.NoError(t, err)

	assert.Equal(t, "google.com", draft.OrgName)
	assert.Equal(t, "noreply-dmarc-support@google.com", draft.Email)
	assert.Equal(t, "8295813562867402194", draft.ReportID)
	assert.Equal(t, "example.com", draft.Domain)
	assert.Equal(t, "quarantine", draft.Policy["p"])
	assert.Equal(t, "none", draft.Policy["sp"])
	assert.Equal(t, time.Unix(1706227200, 0).UTC(), draft.BeginAt)
	assert.Equal(t, time.Unix(1706313599, 0).UTC(), draft.EndAt)

	require.Len(t, draft.Records, 1)
	rec := draft.Records[0]
	assert.Equal(t, "209.85.220.41", rec.SourceIP)
	assert.Equal(t, 3, rec.Count)
	assert.Equal(t, "none", rec.Disposition)
	assert.Equal(t, "pass", rec.Dkim)
	assert.Equal(t, "fail", rec.Spf)
	assert.Equal(t, "example.com", rec.HeaderFrom)
	assert.Equal(t, "bounce.example.com", rec.EnvelopeFrom)
	assert.False(t, rec.DkimMissing)

	require.Len(t, rec.DKIMResults, 2)
	assert.Equal(t, "example.com", rec.DKIMResults[0].Domain)
	assert.Equal(t, "s1", rec.DKIMResults[0].Selector)
	require.Len(t, rec.SPFResults, 1)
	assert.Equal(t, "forwarder.net", rec.SPFResults[0].Domain)

	require.Len(t, rec.OverrideReasons, 1)
	assert.Equal(t, "forwarded", rec.OverrideReasons[0].Type)
	assert.Equal(t, "looks like a mailing list", rec.OverrideReasons[0].Comment)
}

func TestParseFeed_CamelCaseAndIdentities(t *testing.T) {
	draft, err := ParseFeed(camelCaseFeed)
	require.NoError(t, err)

	assert.Equal(t, "Outlook.com", draft.OrgName)
	assert.Equal(t, "d9f8a7b6", draft.ReportID)
	// published domain is lowercased
	assert.Equal(t, "example.com", draft.Domain)
	assert.Equal(t, "reject", draft.Policy["p"])

	require.Len(t, draft.Records, 1)
	rec := draft.Records[0]
	assert.Equal(t, "40.92.0.17", rec.SourceIP)
	assert.Equal(t, "reject", rec.Disposition)
	// identities block is read exactly like identifiers
	assert.Equal(t, "example.com", rec.HeaderFrom)
	assert.Equal(t, "victim.org", rec.EnvelopeTo)

	assert.Empty(t, rec.DKIMResults)
	assert.True(t, rec.DkimMissing)
	require.Len(t, rec.SPFResults, 1)
	assert.Equal(t, "lookup timeout", rec.SPFResults[0].HumanResult)
}

func TestParseFeed_MissingElementsYieldZeroValues(t *testing.T) {
	draft, err := ParseFeed(`<feedback><record><row><source_ip>1.2.3.4</source_ip></row></record></feedback>`)
	require.NoError(t, err)

	assert.Empty(t, draft.ReportID)
	assert.True(t, draft.BeginAt.IsZero())
	require.Len(t, draft.Records, 1)
	assert.Equal(t, "1.2.3.4", draft.Records[0].SourceIP)
	assert.Zero(t, draft.Records[0].Count)
	assert.True(t, draft.Records[0].DkimMissing)
}

func TestParseFeed_UnparsableStream(t *testing.T) {
	_, err := ParseFeed(`this is not xml at all`)
	assert.ErrorIs(t, err, er.ErrUnparsableReport)
}

func TestParseFeed_ValueNormalization(t *testing.T) {
	draft, err := ParseFeed(`<feedback><record><row><source_ip> 5.6.7.8 </source_ip><count>2</count>
	  <policy_evaluated><disposition> NONE </disposition><dkim>PASS</dkim><spf>Fail</spf></policy_evaluated></row>
	  <identifiers><header_from> Example.COM </header_from></identifiers>
	</record></feedback>`)
	require.NoError(t, err)

	rec := draft.Records[0]
	assert.Equal(t, "5.6.7.8", rec.SourceIP)
	assert.Equal(t, "none", rec.Disposition)
	assert.Equal(t, "pass", rec.Dkim)
	assert.Equal(t, "fail", rec.Spf)
	assert.Equal(t, "example.com", rec.HeaderFrom)
}
