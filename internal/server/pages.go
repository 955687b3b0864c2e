package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// indexPageHandler serves the scoring form.
func indexPageHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, indexHTML)
}

// dashboardPageHandler serves the charts page. Data comes from /dashboard-data
// and new scores stream in over /ws.
func dashboardPageHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, dashboardHTML)
}

const pageStyle = `
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #0b1120;
            --panel: #111827;
            --border: #1f2937;
            --text: #f9fafb;
            --muted: #9ca3af;
            --red: #ef4444;
            --green: #22c55e;
            --blue: #2563eb;
        }
        body { font-family: system-ui, -apple-system, sans-serif; background: var(--bg); color: var(--text); }
        header { display: flex; justify-content: space-between; align-items: center; padding: 16px 32px; border-bottom: 1px solid var(--border); }
        header a { color: var(--muted); text-decoration: none; margin-left: 20px; }
        header a:hover { color: var(--text); }
        main { max-width: 1100px; margin: 32px auto; padding: 0 24px; }
        .panel { background: var(--panel); border: 1px solid var(--border); border-radius: 10px; padding: 20px; }
        h1 { font-size: 20px; font-weight: 600; }
        h2 { font-size: 15px; color: var(--muted); font-weight: 500; margin-bottom: 12px; }
`

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Fraudscope - Score a transaction</title>
    <style>` + pageStyle + `
        form { display: grid; grid-template-columns: repeat(2, 1fr); gap: 14px 20px; }
        label { display: flex; flex-direction: column; font-size: 13px; color: var(--muted); gap: 6px; }
        input, select { background: var(--bg); color: var(--text); border: 1px solid var(--border); border-radius: 6px; padding: 8px; font-size: 14px; }
        .check { flex-direction: row; align-items: center; }
        button { grid-column: span 2; background: var(--blue); color: white; border: 0; border-radius: 6px; padding: 12px; font-size: 15px; cursor: pointer; }
        #result-card { display: none; margin-top: 20px; }
        .FLAGGED { color: var(--red); }
        .SAFE { color: var(--green); }
    </style>
</head>
<body>
    <header>
        <h1>Fraudscope</h1>
        <nav><a href="/">Score</a><a href="/dashboard">Dashboard</a></nav>
    </header>
    <main>
        <div class="panel">
            <h2>UPI transaction</h2>
            <form id="prediction-form">
                <label>Transaction type
                    <select name="transaction_type">
                        <option>P2P</option><option>P2M</option><option>Bill Payment</option><option>Recharge</option>
                    </select>
                </label>
                <label>Status
                    <select name="transaction_status"><option>SUCCESS</option><option>FAILED</option></select>
                </label>
                <label>Amount (INR) <input name="amount" type="number" min="0" step="0.01" required></label>
                <label>Merchant category
                    <select name="merchant_category">
                        <option>Grocery</option><option>Food</option><option>Shopping</option><option>Fuel</option>
                        <option>Entertainment</option><option>Utilities</option><option>Transport</option>
                        <option>Healthcare</option><option>Education</option><option>Other</option>
                    </select>
                </label>
                <label>Sender age <input name="sender_age" type="number" min="18" max="120" required></label>
                <label>Receiver age <input name="receiver_age" type="number" min="18" max="120" required></label>
                <label>Sender state <input name="sender_state" required></label>
                <label>Sender bank <input name="sender_bank" required></label>
                <label>Receiver bank <input name="receiver_bank" required></label>
                <label>Device
                    <select name="device_type"><option>Android</option><option>iOS</option><option>Web</option></select>
                </label>
                <label>Network
                    <select name="network_type"><option>4G</option><option>5G</option><option>3G</option><option>WiFi</option></select>
                </label>
                <label>Hour of day <input name="hour_of_day" type="number" min="0" max="23" required></label>
                <label>Day of week
                    <select name="day_of_week">
                        <option>Monday</option><option>Tuesday</option><option>Wednesday</option><option>Thursday</option>
                        <option>Friday</option><option>Saturday</option><option>Sunday</option>
                    </select>
                </label>
                <label class="check"><input name="is_weekend" type="checkbox"> Weekend</label>
                <button type="submit">Score</button>
            </form>
        </div>
        <div id="result-card" class="panel"><p id="result-text"></p></div>
    </main>
    <script>
    document.addEventListener("DOMContentLoaded", function () {
        const form = document.getElementById("prediction-form");
        const card = document.getElementById("result-card");
        const text = document.getElementById("result-text");

        form.addEventListener("submit", async function (e) {
            e.preventDefault();
            const f = new FormData(form);
            const payload = {
                "transaction type": f.get("transaction_type") || "",
                "transaction_status": f.get("transaction_status"),
                "amount": Number(f.get("amount")),
                "merchant_category": f.get("merchant_category"),
                "sender_age": Number(f.get("sender_age")),
                "receiver_age": Number(f.get("receiver_age")),
                "sender_state": f.get("sender_state"),
                "sender_bank": f.get("sender_bank"),
                "receiver_bank": f.get("receiver_bank"),
                "device_type": f.get("device_type"),
                "network_type": f.get("network_type"),
                "hour_of_day": Number(f.get("hour_of_day")),
                "day_of_week": f.get("day_of_week"),
                "is_weekend": f.get("is_weekend") === "on" ? 1 : 0,
            };

            card.style.display = "block";
            try {
                const resp = await fetch("/predict", {
                    method: "POST",
                    headers: { "Content-Type": "application/json" },
                    body: JSON.stringify(payload),
                });
                const json = await resp.json();
                if (!resp.ok) {
                    text.textContent = json.error || "Prediction failed";
                    return;
                }
                text.innerHTML = "Decision: <strong class=\"" + json.decision + "\">" + json.decision +
                    "</strong> (probability " + json.fraud_probability + ", threshold " + json.threshold + ")";
            } catch (err) {
                text.textContent = "Failed to contact server.";
            }
        });
    });
    </script>
</body>
</html>`

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Fraudscope - Dashboard</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js@4.4.1/dist/chart.umd.min.js"></script>
    <style>` + pageStyle + `
        .kpis { display: grid; grid-template-columns: repeat(3, 1fr); gap: 16px; margin-bottom: 16px; }
        .kpi .value { font-size: 30px; font-weight: 600; margin-top: 4px; }
        .grid { display: grid; grid-template-columns: repeat(2, 1fr); gap: 16px; }
        .wide { grid-column: span 2; }
        #feed { list-style: none; font-family: ui-monospace, monospace; font-size: 13px; max-height: 220px; overflow-y: auto; }
        #feed li { padding: 6px 0; border-bottom: 1px solid var(--border); }
        .FLAGGED { color: var(--red); }
        .SAFE { color: var(--green); }
    </style>
</head>
<body>
    <header>
        <h1>Fraudscope</h1>
        <nav><a href="/">Score</a><a href="/dashboard">Dashboard</a></nav>
    </header>
    <main>
        <div class="kpis">
            <div class="panel kpi"><h2>Total transactions</h2><div class="value" id="kpi-total">-</div></div>
            <div class="panel kpi"><h2>Fraud transactions</h2><div class="value" id="kpi-fraud">-</div></div>
            <div class="panel kpi"><h2>Fraud rate</h2><div class="value" id="kpi-rate">-</div></div>
        </div>
        <div class="grid">
            <div class="panel"><h2>Fraud vs non-fraud</h2><canvas id="fraudPieChart"></canvas></div>
            <div class="panel"><h2>Fraud by network</h2><canvas id="fraudNetworkChart"></canvas></div>
            <div class="panel wide"><h2>Transactions over time</h2><canvas id="transactionsTimeChart"></canvas></div>
            <div class="panel"><h2>Fraud by transaction type</h2><canvas id="fraudTypeChart"></canvas></div>
            <div class="panel"><h2>Live scores</h2><ul id="feed"></ul></div>
        </div>
    </main>
    <script>
    document.addEventListener("DOMContentLoaded", function () {
        const charts = {};

        function draw(id, config) {
            if (charts[id]) charts[id].destroy();
            charts[id] = new Chart(document.getElementById(id), config);
        }

        function bar(id, data, color) {
            draw(id, {
                type: "bar",
                data: { labels: Object.keys(data), datasets: [{ label: "Fraud Count", data: Object.values(data), backgroundColor: color }] },
                options: { plugins: { legend: { display: false } } },
            });
        }

        async function load() {
            try {
                const resp = await fetch("/dashboard-data");
                const data = await resp.json();
                if (!resp.ok) {
                    console.error("Failed to load dashboard data", data.error);
                    return;
                }
                document.getElementById("kpi-total").innerText = data.kpis.total_transactions;
                document.getElementById("kpi-fraud").innerText = data.kpis.fraud_transactions;
                document.getElementById("kpi-rate").innerText = data.kpis.fraud_rate + "%";

                draw("fraudPieChart", {
                    type: "doughnut",
                    data: {
                        labels: ["Fraud", "Non-Fraud"],
                        datasets: [{ data: [data.fraud_vs_non_fraud.fraud, data.fraud_vs_non_fraud.non_fraud], backgroundColor: ["#EF4444", "#22C55E"] }],
                    },
                });
                bar("fraudNetworkChart", data.fraud_by_network, "#2563EB");
                bar("fraudTypeChart", data.fraud_by_transaction_type, "#64748B");
                draw("transactionsTimeChart", {
                    type: "line",
                    data: {
                        labels: Object.keys(data.transactions_over_time),
                        datasets: [{ label: "Transactions", data: Object.values(data.transactions_over_time), borderColor: "#2563EB", fill: false, tension: 0.3 }],
                    },
                });
            } catch (err) {
                console.error("Dashboard error:", err);
            }
        }

        function connect() {
            const proto = location.protocol === "https:" ? "wss://" : "ws://";
            const ws = new WebSocket(proto + location.host + "/ws");
            const feed = document.getElementById("feed");
            let pending = null;

            ws.onmessage = function (msg) {
                const ev = JSON.parse(msg.data);
                if (ev.type !== "prediction") return;
                const p = ev.data;
                const li = document.createElement("li");
                li.innerHTML = "<span class=\"" + p.decision + "\">" + p.decision + "</span> " +
                    p.transaction_type + " " + p.amount + " INR (" + p.fraud_probability + ")";
                feed.prepend(li);
                while (feed.children.length > 50) feed.lastChild.remove();

                clearTimeout(pending);
                pending = setTimeout(load, 1000);
            };
            ws.onclose = function () { setTimeout(connect, 3000); };
        }

        load();
        connect();
    });
    </script>
</body>
</html>`
