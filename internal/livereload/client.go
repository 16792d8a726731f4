package livereload

import (
	"bytes"
	"strings"
)

const (
	// ScriptPath serves the browser client.
	ScriptPath = "/__livereload.js"
	// SocketPath is the websocket endpoint the client connects to.
	SocketPath = "/__livereload"
)

const scriptTag = `<script src="` + ScriptPath + `"></script>`

const clientScript = `(function () {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var delay = 1000;
  function swap(paths) {
    var links = document.querySelectorAll('link[rel="stylesheet"]');
    var stamp = Date.now();
    var swapped = 0;
    links.forEach(function (link) {
      var url = new URL(link.href, location.href);
      if (url.origin !== location.origin) { return; }
      for (var i = 0; i < paths.length; i++) {
        var min = paths[i].replace(/\.css$/, ".min.css");
        if (url.pathname === paths[i] || url.pathname === min) {
          url.searchParams.set("livereload", stamp);
          link.href = url.toString();
          swapped++;
          return;
        }
      }
    });
    return swapped;
  }
  function connect() {
    var ws = new WebSocket(proto + location.host + "` + SocketPath + `");
    ws.onopen = function () { delay = 1000; };
    ws.onmessage = function (event) {
      var msg = JSON.parse(event.data);
      if (msg.type === "reload") {
        location.reload();
      } else if (msg.type === "inject") {
        if (swap(msg.paths || []) === 0) { location.reload(); }
      } else if (msg.type === "error") {
        console.error("[assetflow] " + msg.error);
      }
    };
    ws.onclose = function () {
      setTimeout(connect, delay);
      delay = Math.min(delay * 2, 10000);
    };
  }
  connect();
})();
`

// InjectScript adds the client script tag to an HTML document, before the
// last closing body tag when there is one.
func InjectScript(doc []byte) []byte {
	if bytes.Contains(doc, []byte(scriptTag)) {
		return doc
	}
	idx := strings.LastIndex(strings.ToLower(string(doc)), "</body>")
	if idx < 0 {
		out := make([]byte, 0, len(doc)+len(scriptTag)+1)
		out = append(out, doc...)
		out = append(out, '\n')
		return append(out, scriptTag...)
	}
	out := make([]byte, 0, len(doc)+len(scriptTag))
	out = append(out, doc[:idx]...)
	out = append(out, scriptTag...)
	return append(out, doc[idx:]...)
}
