package chain

// Minimal ABI fragments for the three monitored contracts. Only the methods
// and events the agent touches are declared; the contracts themselves carry
// more surface.

const oracleABIJSON = `[
  {"inputs":[],"name":"price","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getPrice","outputs":[{"name":"_price","type":"uint256"},{"name":"_timestamp","type":"uint256"},{"name":"_blockNumber","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getTWAP","outputs":[{"name":"twap","type":"uint256"},{"name":"sampleCount","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"count","type":"uint256"}],"name":"getPriceHistory","outputs":[{"name":"prices","type":"uint256[]"},{"name":"timestamps","type":"uint256[]"},{"name":"blockNumbers","type":"uint256[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"updatesThisBlock","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"reason","type":"string"}],"name":"flagManipulation","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"timestamp","type":"uint256"},{"indexed":false,"name":"oldPrice","type":"uint256"},{"indexed":false,"name":"newPrice","type":"uint256"},{"indexed":false,"name":"percentageChange","type":"uint256"},{"indexed":true,"name":"updater","type":"address"}],"name":"PriceUpdated","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"timestamp","type":"uint256"},{"indexed":false,"name":"price","type":"uint256"},{"indexed":false,"name":"reason","type":"string"}],"name":"ManipulationFlagged","type":"event"}
]`

const ammABIJSON = `[
  {"inputs":[],"name":"getReserves","outputs":[{"name":"_wethReserve","type":"uint256"},{"name":"_usdcReserve","type":"uint256"},{"name":"spotPrice","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getSpotPrice","outputs":[{"name":"price","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getBlockSwapStats","outputs":[{"name":"count","type":"uint256"},{"name":"blockNumber","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"paused","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"pause","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"unpause","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"swapsThisBlock","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"sender","type":"address"},{"indexed":false,"name":"amountIn","type":"uint256"},{"indexed":false,"name":"amountOut","type":"uint256"},{"indexed":false,"name":"isWethToUsdc","type":"bool"},{"indexed":false,"name":"newWethReserve","type":"uint256"},{"indexed":false,"name":"newUsdcReserve","type":"uint256"},{"indexed":false,"name":"effectivePrice","type":"uint256"},{"indexed":false,"name":"blockNumber","type":"uint256"}],"name":"Swap","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"by","type":"address"},{"indexed":false,"name":"timestamp","type":"uint256"}],"name":"EmergencyPaused","type":"event"}
]`

const vaultABIJSON = `[
  {"inputs":[{"name":"user","type":"address"}],"name":"getPosition","outputs":[{"name":"collateral","type":"uint256"},{"name":"debt","type":"uint256"},{"name":"healthFactor","type":"uint256"},{"name":"collateralValueUsd","type":"uint256"},{"name":"maxBorrow","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"user","type":"address"}],"name":"getHealthFactor","outputs":[{"name":"healthFactor","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"user","type":"address"}],"name":"isLiquidatable","outputs":[{"name":"isLiquidatable_","type":"bool"},{"name":"healthFactor","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"paused","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"liquidationsBlocked","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"reason","type":"string"}],"name":"pause","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"unpause","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"blockLiquidations","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"unblockLiquidations","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"totalCollateral","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"totalLoans","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"liquidationsThisBlock","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"liquidator","type":"address"},{"indexed":true,"name":"user","type":"address"},{"indexed":false,"name":"debtRepaid","type":"uint256"},{"indexed":false,"name":"collateralSeized","type":"uint256"},{"indexed":false,"name":"oraclePrice","type":"uint256"},{"indexed":false,"name":"blockNumber","type":"uint256"},{"indexed":false,"name":"timestamp","type":"uint256"}],"name":"Liquidation","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"by","type":"address"},{"indexed":false,"name":"timestamp","type":"uint256"},{"indexed":false,"name":"reason","type":"string"}],"name":"EmergencyPaused","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"by","type":"address"},{"indexed":false,"name":"timestamp","type":"uint256"}],"name":"LiquidationsBlocked","type":"event"}
]`
