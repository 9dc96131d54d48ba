package notification

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/k3a/html2text"
)

var deviceAlertTemplate = template.Must(template.New("device_alert").Parse(`<!DOCTYPE html>
<html>
<body>
<h2>{{.FieldLabel}} alert on {{.DeviceName}}</h2>
<p>Alert <strong>{{.AlertName}}</strong> fired.</p>
<table>
<tr><td>Reading</td><td>{{.Reading}}</td></tr>
<tr><td>Condition</td><td>{{.Sign}} {{.Bounds}}</td></tr>
<tr><td>Last update</td><td>{{.Datetime}}</td></tr>
</table>
<p>Open the dashboard to acknowledge this alert.</p>
</body>
</html>
`))

type deviceAlertView struct {
	DeviceAlert
	Reading string
	Bounds  string
}

// RenderDeviceAlert renders the HTML body and its plain-text equivalent.
func RenderDeviceAlert(a DeviceAlert) (htmlBody, textBody string, err error) {
	view := deviceAlertView{
		DeviceAlert: a,
		Reading:     formatReading(a.Value, a.Unit),
		Bounds:      boundsText(a),
	}
	var buf bytes.Buffer
	if err := deviceAlertTemplate.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("failed to render device alert: %w", err)
	}
	htmlBody = buf.String()
	return htmlBody, html2text.HTML2Text(htmlBody), nil
}

func boundsText(a DeviceAlert) string {
	switch {
	case a.LowerRange != nil && a.UpperRange != nil:
		return formatBound(a.LowerRange, a.Unit) + " and " + formatBound(a.UpperRange, a.Unit)
	case a.LowerRange != nil:
		return formatBound(a.LowerRange, a.Unit)
	default:
		return formatBound(a.UpperRange, a.Unit)
	}
}
