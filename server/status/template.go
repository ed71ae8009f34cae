package status

import "html/template"

type statusTemplateDevice struct {
	Label string
	Model string
	ID    string
}

type statusTemplateData struct {
	Version     string
	Devices     []statusTemplateDevice
	DeviceCount int

	IsError bool
	Error   string

	CSRFField template.HTML
}

const templateString = `
<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no">
  <title>HyperX Pilot status</title>
  <style>
    body {
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", "Roboto", "Helvetica Neue", Arial, sans-serif;
    }

    h1 {
      font-size: 36px;
    }

    p {
      color: #858585;
    }

    .error {
      border: 1px solid orangered;
      border-radius: 4px;
      min-width: 320px;
      max-width: 500px;
      margin: 20px auto;
      color: darkred;
      padding: 13px;
    }

    .item {
      border: 1px solid lightgray;
      border-radius: 4px;
      min-width: 320px;
      max-width: 500px;
      margin: 20px auto;
      padding: 10px 20px;
      text-align: left;
    }

    .item p {
      font-size: 11px;
      word-break: break-all;
    }

    #container {
      text-align: center;
    }
  </style>
</head>
<body>
  <div id="container">
    <h1>HyperX Pilot</h1>
    <p>Bridge version: {{.Version}}</p>

    {{if .IsError}}
      <div class="error">{{.Error}}</div>
    {{else}}
      {{if eq .DeviceCount 0}}
        <p>No supported headset connected.</p>
      {{end}}
      {{range .Devices}}
        <div class="item">
          <h3>{{.Label}}</h3>
          <p>model: {{.Model}}<br>id: {{.ID}}</p>
        </div>
      {{end}}
    {{end}}

    <form action="/status/log.gz" method="POST">
      {{.CSRFField}}
      <button type="submit">Download detailed log</button>
    </form>
  </div>
</body>
</html>
`
